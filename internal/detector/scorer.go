package detector

import (
	"gonum.org/v1/gonum/mat"

	"anomalyd/internal/forest"
)

// MinBatchSize is the smallest batch the scorer will fit an ensemble on.
const MinBatchSize = 10

// Scores is the scorer's output for one batch.
type Scores struct {
	// Values holds one score per row, lower is more anomalous. Empty when
	// the batch was too small to score.
	Values []float64
	// Offset is the ensemble's contamination cut and Flagged the number of
	// rows scoring below it. Neither affects which rows are persisted.
	Offset  float64
	Flagged int
}

// Scorer fits a fresh isolation forest to every batch it scores. It holds
// no model between calls.
type Scorer struct {
	Config forest.Config
}

// Score fits an ensemble on x and scores every row of it. Batches with
// fewer than MinBatchSize rows are skipped and yield empty Scores.
func (s Scorer) Score(x *mat.Dense) (Scores, error) {
	if x == nil || x.IsEmpty() {
		return Scores{}, nil
	}
	if n, _ := x.Dims(); n < MinBatchSize {
		return Scores{}, nil
	}

	f, err := forest.Fit(x, s.Config)
	if err != nil {
		return Scores{}, err
	}
	values, err := f.ScoreSamples(x)
	if err != nil {
		return Scores{}, err
	}

	out := Scores{Values: values, Offset: f.Offset()}
	for _, v := range values {
		if v < out.Offset {
			out.Flagged++
		}
	}
	return out, nil
}
