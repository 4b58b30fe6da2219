package detector

import "fmt"

// Stage names a step of the detection cycle.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageScore   Stage = "score"
	StagePersist Stage = "persist"
)

// StageError reports which stage aborted a cycle.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
