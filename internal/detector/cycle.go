// Package detector runs detection cycles: fetch a trailing window of
// per-minute metrics, build and standardize features, score them with an
// isolation forest, and persist the rows scoring below a fixed threshold.
// Every cycle starts from scratch; nothing is carried between cycles.
package detector

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"anomalyd/internal/db"
	"anomalyd/internal/forest"
	"anomalyd/internal/metrics"
)

// Store is the slice of the database a cycle touches.
type Store interface {
	FetchRecentMetrics(ctx context.Context, since time.Time) ([]db.MetricSample, error)
	SaveAnomalies(ctx context.Context, records []db.Anomaly) error
}

// Options tune a Detector.
type Options struct {
	Window    time.Duration
	Threshold float64
	Forest    forest.Config
	// DryRun logs the selected rows instead of writing them.
	DryRun bool
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// DefaultOptions returns a 30 minute window, a -0.5 threshold and the
// default forest.
func DefaultOptions() Options {
	return Options{
		Window:    30 * time.Minute,
		Threshold: -0.5,
		Forest:    forest.DefaultConfig(),
	}
}

// Summary describes a finished cycle. Score fields are only meaningful when
// Scored is true.
type Summary struct {
	RunID     string
	Rows      int
	Sanitized int

	Scored    bool
	ScoreMin  float64
	ScoreMax  float64
	ScoreMean float64
	ScoreStd  float64
	Flagged   int

	Selected int
	Saved    int
}

// Detector runs detection cycles against a store.
type Detector struct {
	store Store
	log   *zap.Logger
	rec   *metrics.Recorder
	opts  Options
}

// New returns a Detector. log and rec may be nil.
func New(store Store, log *zap.Logger, rec *metrics.Recorder, opts Options) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{store: store, log: log, rec: rec, opts: opts}
}

// RunCycle executes one fetch, score, persist pass. An empty window or a
// batch smaller than MinBatchSize ends the cycle early without error. Any
// failure aborts the cycle before anything is written and is returned as a
// *StageError.
func (d *Detector) RunCycle(ctx context.Context) (Summary, error) {
	started := d.opts.Now().UTC()
	sum := Summary{RunID: uuid.NewString()}
	log := d.log.With(zap.String("run_id", sum.RunID))

	outcome := metrics.OutcomeError
	defer func() {
		d.rec.ObserveCycle(outcome, d.opts.Now().Sub(started))
	}()

	samples, batch, err := Fetcher{Store: d.store, Window: d.opts.Window}.Fetch(ctx, started)
	if err != nil {
		return sum, &StageError{Stage: StageFetch, Err: err}
	}
	sum.Rows = len(samples)
	d.rec.SetRowsFetched(sum.Rows)

	if sum.Rows == 0 {
		log.Info("no data to analyze", zap.Duration("window", d.opts.Window))
		outcome = metrics.OutcomeNoData
		return sum, nil
	}
	log.Info("analyzing rows", zap.Int("rows", sum.Rows), zap.Duration("window", d.opts.Window))

	sum.Sanitized = Sanitize(batch.Features)
	if sum.Sanitized > 0 {
		log.Debug("replaced non-finite features", zap.Int("count", sum.Sanitized))
	}
	x := Standardize(batch.Features)

	scores, err := Scorer{Config: d.opts.Forest}.Score(x)
	if err != nil {
		return sum, &StageError{Stage: StageScore, Err: err}
	}
	if len(scores.Values) == 0 {
		log.Info("batch too small to score",
			zap.Int("rows", sum.Rows),
			zap.Int("min_rows", MinBatchSize),
		)
		outcome = metrics.OutcomeTooSmall
		return sum, nil
	}

	sum.Scored = true
	sum.ScoreMin = floats.Min(scores.Values)
	sum.ScoreMax = floats.Max(scores.Values)
	mean, variance := stat.PopMeanVariance(scores.Values, nil)
	sum.ScoreMean, sum.ScoreStd = mean, math.Sqrt(variance)
	sum.Flagged = scores.Flagged
	d.rec.SetScoreStats(sum.ScoreMin, sum.ScoreMax, sum.ScoreMean, sum.ScoreStd)

	log.Info("score summary",
		zap.Int("rows", sum.Rows),
		zap.Float64("min", sum.ScoreMin),
		zap.Float64("max", sum.ScoreMax),
		zap.Float64("mean", sum.ScoreMean),
		zap.Float64("std", sum.ScoreStd),
		zap.Int("ensemble_outliers", sum.Flagged),
		zap.Float64("ensemble_offset", scores.Offset),
	)

	records := Decide(scores.Values, batch.Meta, d.opts.Threshold, started, sum.RunID)
	sum.Selected = len(records)
	if len(records) == 0 {
		log.Info("no anomalies detected", zap.Float64("threshold", d.opts.Threshold))
		outcome = metrics.OutcomeAnalyzed
		return sum, nil
	}

	if d.opts.DryRun {
		for _, r := range records {
			log.Info("anomaly (dry run)",
				zap.String("host", r.Host),
				zap.String("service", r.Service),
				zap.Time("window_start", r.WindowStart),
				zap.Float64("score", r.Score),
			)
		}
		outcome = metrics.OutcomeAnalyzed
		return sum, nil
	}

	if err := d.store.SaveAnomalies(ctx, records); err != nil {
		return sum, &StageError{Stage: StagePersist, Err: err}
	}
	sum.Saved = len(records)
	perService := make(map[string]int)
	for _, r := range records {
		perService[r.Service]++
	}
	for service, n := range perService {
		d.rec.AddAnomaliesSaved(service, n)
	}
	log.Info("anomalies saved",
		zap.Int("count", sum.Saved),
		zap.Float64("threshold", d.opts.Threshold),
	)

	outcome = metrics.OutcomeAnalyzed
	return sum, nil
}
