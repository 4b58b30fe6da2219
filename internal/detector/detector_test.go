package detector

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"anomalyd/internal/db"
	"anomalyd/internal/forest"
)

func ptr(v float64) *float64 { return &v }

// scenarioA returns 11 typical minutes and, last, one minute with 50000
// requests that all failed with a server error.
func scenarioA(now time.Time) []db.MetricSample {
	var out []db.MetricSample
	for i := 0; i < 11; i++ {
		req := int64(100 + i*5)
		errs := int64(1 + i%3)
		s5xx := int64(i % 2)
		out = append(out, db.MetricSample{
			WindowStart:      now.Add(-time.Duration(i+1) * time.Minute),
			Host:             "web-1",
			Service:          "checkout",
			Unit:             "checkout.service",
			RequestCount:     req,
			ErrorCount:       errs,
			ServerErrorCount: s5xx,
			AvgLatency:       ptr(48 + float64(i)*1.5),
			P95Latency:       ptr(110 + float64(i)*3),
			P99Latency:       ptr(160 + float64(i)*4),
			MaxLatency:       ptr(220 + float64(i)*6),
			ErrorRate:        float64(errs) / float64(req),
			ServerErrorRate:  float64(s5xx) / float64(req),
		})
	}
	out = append(out, db.MetricSample{
		WindowStart:      now.Add(-12 * time.Minute),
		Host:             "web-2",
		Service:          "checkout",
		Unit:             "checkout.service",
		RequestCount:     50000,
		ErrorCount:       50000,
		ServerErrorCount: 50000,
		AvgLatency:       ptr(55),
		P95Latency:       ptr(120),
		P99Latency:       ptr(170),
		MaxLatency:       ptr(240),
		ErrorRate:        1,
		ServerErrorRate:  1,
	})
	return out
}

func TestFeatureVectorOrder(t *testing.T) {
	s := db.MetricSample{
		RequestCount:     200,
		ErrorCount:       20,
		ServerErrorCount: 10,
		AvgLatency:       ptr(12.5),
		P95Latency:       ptr(40),
		P99Latency:       ptr(80),
		MaxLatency:       nil,
		ErrorRate:        0.1,
		ServerErrorRate:  0.05,
	}
	v := FeatureVector(s)
	assert.Equal(t, []float64{200, 20, 10, 12.5, 40, 80}, v[:6])
	assert.True(t, math.IsNaN(v[6]))
	assert.Equal(t, []float64{0.1, 0.05}, v[7:])
	assert.Equal(t, "request_count", FeatureNames[0])
	assert.Equal(t, "server_error_rate", FeatureNames[NumFeatures-1])
}

func TestBuildBatch(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	samples := scenarioA(now)

	b := BuildBatch(samples)
	require.Equal(t, len(samples), b.Len())
	r, c := b.Features.Dims()
	assert.Equal(t, len(samples), r)
	assert.Equal(t, NumFeatures, c)

	for i, s := range samples {
		assert.Equal(t, s.WindowStart, b.Meta[i].WindowStart)
		assert.Equal(t, s.Host, b.Meta[i].Host)
		assert.Equal(t, s.Unit, b.Meta[i].Unit)
		assert.Equal(t, float64(s.RequestCount), b.Features.At(i, 0))
	}

	empty := BuildBatch(nil)
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.Features)
}

func TestSanitizeIsIdempotent(t *testing.T) {
	x := mat.NewDense(3, 3, []float64{
		1, math.NaN(), 3,
		math.Inf(1), 5, 6,
		7, 8, math.Inf(-1),
	})

	assert.Equal(t, 3, Sanitize(x))
	once := mat.DenseCopyOf(x)
	assert.Equal(t, 0, Sanitize(x))
	assert.True(t, mat.Equal(once, x))
	assert.Equal(t, []float64{1, 0, 3, 0, 5, 6, 7, 8, 0}, x.RawMatrix().Data)

	assert.Equal(t, 0, Sanitize(nil))
}

func TestStandardize(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const rows = 50
	x := mat.NewDense(rows, NumFeatures, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < NumFeatures; j++ {
			x.Set(i, j, 1000*rng.Float64()+float64(j)*50)
		}
		x.Set(i, 3, 7.25)
	}
	before := mat.DenseCopyOf(x)

	z := Standardize(x)
	require.NotNil(t, z)
	assert.True(t, mat.Equal(before, x), "input was modified")

	col := make([]float64, rows)
	for j := 0; j < NumFeatures; j++ {
		mat.Col(col, j, z)
		if j == 3 {
			for _, v := range col {
				assert.Zero(t, v)
			}
			continue
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		assert.InDelta(t, 0, mean, 1e-9, "column %d", j)
		assert.InDelta(t, 1, math.Sqrt(variance), 1e-9, "column %d", j)
	}

	assert.Nil(t, Standardize(nil))
}

func TestScorerSkipsSmallBatches(t *testing.T) {
	s := Scorer{Config: forest.DefaultConfig()}
	for n := 1; n < MinBatchSize; n++ {
		x := mat.NewDense(n, NumFeatures, nil)
		for i := 0; i < n; i++ {
			x.Set(i, 0, float64(i))
		}
		got, err := s.Score(x)
		require.NoError(t, err)
		assert.Empty(t, got.Values, "n=%d", n)
	}

	got, err := s.Score(nil)
	require.NoError(t, err)
	assert.Empty(t, got.Values)
}

func TestScorerIsDeterministic(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	b := BuildBatch(scenarioA(now))
	Sanitize(b.Features)
	x := Standardize(b.Features)

	cfg := forest.DefaultConfig()
	first, err := Scorer{Config: cfg}.Score(x)
	require.NoError(t, err)
	cfg.Workers = 4
	second, err := Scorer{Config: cfg}.Score(x)
	require.NoError(t, err)

	require.Len(t, first.Values, 12)
	assert.Equal(t, first.Values, second.Values)
	assert.Equal(t, first.Offset, second.Offset)
	assert.Equal(t, first.Flagged, second.Flagged)
}

func TestScenarioAOutlierScoresLowest(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	b := BuildBatch(scenarioA(now))
	Sanitize(b.Features)

	got, err := Scorer{Config: forest.DefaultConfig()}.Score(Standardize(b.Features))
	require.NoError(t, err)
	require.Len(t, got.Values, 12)

	outlier := got.Values[11]
	assert.Less(t, outlier, -0.5)
	for i, s := range got.Values[:11] {
		assert.Less(t, outlier+0.05, s, "row %d", i)
	}
	assert.GreaterOrEqual(t, got.Flagged, 1)
}

func TestDecideSelectsStrictlyBelowThreshold(t *testing.T) {
	base := time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)
	detectedAt := base.Add(time.Hour)
	scores := []float64{-0.7, -0.5, -0.49, -0.51, -0.1}
	meta := make([]WindowMeta, len(scores))
	for i := range meta {
		meta[i] = WindowMeta{
			WindowStart: base.Add(time.Duration(i) * time.Minute),
			Host:        "web-1",
			Service:     "api",
			Unit:        "api.service",
		}
	}

	got := Decide(scores, meta, -0.5, detectedAt, "run-1")
	require.Len(t, got, 2)

	assert.Equal(t, -0.7, got[0].Score)
	assert.Equal(t, meta[0].WindowStart, got[0].WindowStart)
	assert.Equal(t, -0.51, got[1].Score)
	assert.Equal(t, meta[3].WindowStart, got[1].WindowStart)

	for _, a := range got {
		assert.Less(t, a.Score, -0.5)
		assert.Equal(t, a.WindowStart.Add(time.Minute), a.WindowEnd)
		assert.Equal(t, detectedAt, a.DetectedAt)
		assert.Equal(t, "web-1", a.Host)
		assert.Equal(t, "api", a.Service)
		assert.Equal(t, AnomalyType, a.AnomalyType)
		assert.Equal(t, db.AnomalyDetails{
			Unit:      "api.service",
			Method:    Method,
			Threshold: -0.5,
			RunID:     "run-1",
		}, a.Details.Data())
	}

	assert.Empty(t, Decide(scores, meta, -0.9, detectedAt, "run-1"))
	assert.Empty(t, Decide(nil, nil, -0.5, detectedAt, "run-1"))
}

func TestStageErrorUnwraps(t *testing.T) {
	inner := assert.AnError
	err := error(&StageError{Stage: StagePersist, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "persist stage: "+inner.Error(), err.Error())
}
