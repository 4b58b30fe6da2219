package forest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// gaussianWithOutlier returns n rows of standard normal noise over d columns
// followed by one row sitting at 8 in every column.
func gaussianWithOutlier(n, d int) *mat.Dense {
	rng := rand.New(rand.NewSource(1))
	data := make([]float64, 0, (n+1)*d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			data = append(data, rng.NormFloat64())
		}
	}
	for j := 0; j < d; j++ {
		data = append(data, 8)
	}
	return mat.NewDense(n+1, d, data)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 1.207392357589623, averagePathLength(3), 1e-12)
	assert.InDelta(t, 10.244770920119917, averagePathLength(256), 1e-12)
}

func TestFitIsolatesOutlier(t *testing.T) {
	x := gaussianWithOutlier(200, 3)
	f, err := Fit(x, DefaultConfig())
	require.NoError(t, err)

	scores, err := f.ScoreSamples(x)
	require.NoError(t, err)
	require.Len(t, scores, 201)

	outlier := scores[200]
	for i, s := range scores {
		assert.Greater(t, s, -1.0, "row %d", i)
		assert.Less(t, s, 0.0, "row %d", i)
		if i != 200 {
			assert.Less(t, outlier, s, "row %d scored below the outlier", i)
		}
	}
	assert.Less(t, outlier, -0.6)
}

func TestFitIsDeterministic(t *testing.T) {
	x := gaussianWithOutlier(150, 4)

	cfg := DefaultConfig()
	a, err := Fit(x, cfg)
	require.NoError(t, err)
	cfg.Workers = 8
	b, err := Fit(x, cfg)
	require.NoError(t, err)

	sa, err := a.ScoreSamples(x)
	require.NoError(t, err)
	sb, err := b.ScoreSamples(x)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Offset(), b.Offset())

	cfg.Seed = 7
	c, err := Fit(x, cfg)
	require.NoError(t, err)
	sc, err := c.ScoreSamples(x)
	require.NoError(t, err)
	assert.NotEqual(t, sa, sc)
}

func TestFitCapsSampleSize(t *testing.T) {
	small := gaussianWithOutlier(11, 2)
	f, err := Fit(small, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 12, f.SampleSize())
	assert.Equal(t, 100, f.Trees())

	large := gaussianWithOutlier(400, 2)
	f, err = Fit(large, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 256, f.SampleSize())
}

func TestIdenticalRowsScoreHalf(t *testing.T) {
	data := make([]float64, 20*3)
	for i := range data {
		data[i] = 1.5
	}
	x := mat.NewDense(20, 3, data)

	f, err := Fit(x, DefaultConfig())
	require.NoError(t, err)
	scores, err := f.ScoreSamples(x)
	require.NoError(t, err)
	for _, s := range scores {
		assert.InDelta(t, -0.5, s, 1e-12)
	}
}

func TestPredictMatchesContamination(t *testing.T) {
	x := gaussianWithOutlier(99, 3)
	f, err := Fit(x, DefaultConfig())
	require.NoError(t, err)

	flags, err := f.Predict(x)
	require.NoError(t, err)
	require.Len(t, flags, 100)

	flagged := 0
	for _, v := range flags {
		if v {
			flagged++
		}
	}
	assert.True(t, flags[99], "outlier not flagged")
	assert.GreaterOrEqual(t, flagged, 3)
	assert.LessOrEqual(t, flagged, 6)
}

func TestPredictFlagsOutlierInSmallBatch(t *testing.T) {
	x := gaussianWithOutlier(11, 3)
	f, err := Fit(x, DefaultConfig())
	require.NoError(t, err)

	scores, err := f.ScoreSamples(x)
	require.NoError(t, err)
	for i, s := range scores[:11] {
		require.Less(t, scores[11], s, "row %d", i)
	}
	assert.Greater(t, f.Offset(), scores[11])

	flags, err := f.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, false, false, false, false, false, false, false, true}, flags)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{-0.8, -0.6, -0.5, -0.45, -0.4}
	assert.InDelta(t, -0.8, percentile(sorted, 0), 1e-12)
	assert.InDelta(t, -0.72, percentile(sorted, 0.1), 1e-12)
	assert.InDelta(t, -0.5, percentile(sorted, 0.5), 1e-12)
	assert.InDelta(t, -0.4, percentile(sorted, 1), 1e-12)
	assert.InDelta(t, -0.3, percentile([]float64{-0.3}, 0.05), 1e-12)
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrTooFewRows)

	_, err = Fit(mat.NewDense(1, 2, []float64{1, 2}), DefaultConfig())
	assert.ErrorIs(t, err, ErrTooFewRows)

	x := gaussianWithOutlier(20, 2)
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Trees = 0 },
		func(c *Config) { c.MaxSamples = 1 },
		func(c *Config) { c.MaxDepth = -1 },
		func(c *Config) { c.Contamination = 0 },
		func(c *Config) { c.Contamination = 0.6 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := Fit(x, cfg)
		assert.Error(t, err)
	}

	cfg := DefaultConfig()
	cfg.Contamination = 0.5
	_, err = Fit(x, cfg)
	assert.NoError(t, err)
}

func TestScoreSamplesChecksWidth(t *testing.T) {
	f, err := Fit(gaussianWithOutlier(30, 3), DefaultConfig())
	require.NoError(t, err)

	_, err = f.ScoreSamples(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	assert.Error(t, err)

	scores, err := f.ScoreSamples(nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}
