package detector

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"anomalyd/internal/db"
)

// NumFeatures is the width of every feature vector.
const NumFeatures = 9

// FeatureNames lists the feature columns in matrix order. Fitting and
// scoring must both use this order.
var FeatureNames = [NumFeatures]string{
	"request_count",
	"error_count",
	"server_error_count",
	"avg_latency",
	"p95_latency",
	"p99_latency",
	"max_latency",
	"error_rate",
	"server_error_rate",
}

// WindowMeta identifies the source row of a feature vector.
type WindowMeta struct {
	WindowStart time.Time
	Host        string
	Service     string
	Unit        string
}

// Batch is one cycle's input: row i of Features belongs to Meta[i].
// Features is nil for an empty batch.
type Batch struct {
	Meta     []WindowMeta
	Features *mat.Dense
}

func (b Batch) Len() int { return len(b.Meta) }

// FeatureVector extracts the features of s in FeatureNames order. Missing
// latencies come out as NaN and are neutralized by Sanitize.
func FeatureVector(s db.MetricSample) [NumFeatures]float64 {
	return [NumFeatures]float64{
		float64(s.RequestCount),
		float64(s.ErrorCount),
		float64(s.ServerErrorCount),
		orNaN(s.AvgLatency),
		orNaN(s.P95Latency),
		orNaN(s.P99Latency),
		orNaN(s.MaxLatency),
		s.ErrorRate,
		s.ServerErrorRate,
	}
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// BuildBatch converts samples into a feature matrix with parallel metadata,
// keeping the input order.
func BuildBatch(samples []db.MetricSample) Batch {
	if len(samples) == 0 {
		return Batch{}
	}

	meta := make([]WindowMeta, len(samples))
	data := make([]float64, 0, len(samples)*NumFeatures)
	for i, s := range samples {
		meta[i] = WindowMeta{
			WindowStart: s.WindowStart,
			Host:        s.Host,
			Service:     s.Service,
			Unit:        s.Unit,
		}
		v := FeatureVector(s)
		data = append(data, v[:]...)
	}
	return Batch{Meta: meta, Features: mat.NewDense(len(samples), NumFeatures, data)}
}

// Fetcher reads a trailing window from the store and returns it as a batch.
type Fetcher struct {
	Store  Store
	Window time.Duration
}

// Fetch returns the samples with window_start >= now-Window, most recent
// first, together with their batch. An empty window is not an error.
func (f Fetcher) Fetch(ctx context.Context, now time.Time) ([]db.MetricSample, Batch, error) {
	samples, err := f.Store.FetchRecentMetrics(ctx, now.Add(-f.Window))
	if err != nil {
		return nil, Batch{}, err
	}
	return samples, BuildBatch(samples), nil
}
