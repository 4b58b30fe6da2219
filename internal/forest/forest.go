// Package forest implements an isolation forest: an ensemble of random
// binary partition trees in which rows that are few and different isolate
// in fewer splits than typical rows.
//
// Scores follow the convention score(x) = -2^(-E[h(x)]/c(ψ)), where E[h(x)]
// is the mean path length of x across the trees, ψ is the per-tree sample
// size and c(ψ) is the expected path length of an unsuccessful search in a
// binary search tree of ψ nodes. Scores lie in (-1, 0): a row isolated as
// fast as a random point scores about -0.5, and stronger isolation pushes
// the score toward -1.
package forest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Config parameterizes an ensemble. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Trees is the number of trees in the ensemble.
	Trees int
	// MaxSamples caps the rows drawn (without replacement) for each tree.
	MaxSamples int
	// MaxDepth limits tree height. Zero means ceil(log2(sample size)).
	MaxDepth int
	// Contamination is the expected outlier fraction. It only places the
	// cut used by Predict; scores do not depend on it.
	Contamination float64
	// Seed makes a fit reproducible for a given batch.
	Seed int64
	// Workers bounds how many trees are grown concurrently.
	Workers int
}

// DefaultConfig returns 100 trees of up to 256 samples, 5% contamination,
// seed 42, grown one at a time.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.05,
		Seed:          42,
		Workers:       1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Trees <= 0:
		return fmt.Errorf("forest: trees must be positive, got %d", c.Trees)
	case c.MaxSamples < 2:
		return fmt.Errorf("forest: max samples must be at least 2, got %d", c.MaxSamples)
	case c.MaxDepth < 0:
		return fmt.Errorf("forest: max depth must not be negative, got %d", c.MaxDepth)
	case c.Contamination <= 0 || c.Contamination > 0.5:
		return fmt.Errorf("forest: contamination must be in (0, 0.5], got %g", c.Contamination)
	}
	return nil
}

// ErrTooFewRows is returned by Fit when the batch cannot be split at all.
var ErrTooFewRows = errors.New("forest: at least two rows are required")

// Forest is a fitted ensemble. It is immutable after Fit and safe for
// concurrent scoring.
type Forest struct {
	trees       []*node
	sampleSize  int
	numFeatures int
	offset      float64
}

// Fit grows cfg.Trees isolation trees over the rows of x and calibrates the
// Predict cut from the training scores.
func Fit(x *mat.Dense, cfg Config) (*Forest, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if x == nil {
		return nil, ErrTooFewRows
	}
	n, numFeatures := x.Dims()
	if n < 2 {
		return nil, ErrTooFewRows
	}

	sampleSize := cfg.MaxSamples
	if sampleSize > n {
		sampleSize = n
	}
	maxDepth := cfg.MaxDepth
	if maxDepth == 0 {
		maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = x.RawRowView(i)
	}

	// One seed per tree, drawn up front, so the result does not depend on
	// the order in which workers pick trees up.
	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	trees := make([]*node, cfg.Trees)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			b := &builder{
				rows:        rows,
				rng:         rng,
				maxDepth:    maxDepth,
				numFeatures: numFeatures,
				candidates:  make([]int, 0, numFeatures),
			}
			trees[i] = b.grow(sampleIndices(rng, n, sampleSize), 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f := &Forest{
		trees:       trees,
		sampleSize:  sampleSize,
		numFeatures: numFeatures,
	}

	train, err := f.ScoreSamples(x)
	if err != nil {
		return nil, err
	}
	sorted := append([]float64(nil), train...)
	sort.Float64s(sorted)
	f.offset = percentile(sorted, cfg.Contamination)

	return f, nil
}

// ScoreSamples returns one score per row of x. Lower is more anomalous.
func (f *Forest) ScoreSamples(x *mat.Dense) ([]float64, error) {
	if x == nil {
		return nil, nil
	}
	n, c := x.Dims()
	if c != f.numFeatures {
		return nil, fmt.Errorf("forest: fitted on %d features, got %d", f.numFeatures, c)
	}

	norm := averagePathLength(f.sampleSize)
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		total := 0.0
		for _, t := range f.trees {
			total += t.pathLength(row)
		}
		mean := total / float64(len(f.trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores, nil
}

// Predict reports, per row, whether its score falls below the
// contamination cut computed at fit time.
func (f *Forest) Predict(x *mat.Dense) ([]bool, error) {
	scores, err := f.ScoreSamples(x)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s < f.offset
	}
	return out, nil
}

// Offset is the score below which Predict flags a row.
func (f *Forest) Offset() float64 { return f.offset }

// SampleSize is the number of rows each tree was grown on.
func (f *Forest) SampleSize() int { return f.sampleSize }

// Trees is the ensemble size.
func (f *Forest) Trees() int { return len(f.trees) }

// sampleIndices draws size distinct row indices out of n with a partial
// Fisher-Yates shuffle.
func sampleIndices(rng *rand.Rand, n, size int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < size; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:size]
}

// percentile linearly interpolates sorted at rank p*(n-1), so the lowest
// score is the cut only when p is 0. sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	rank := p * float64(len(sorted)-1)
	k := int(math.Floor(rank))
	if k >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[k] + (rank-float64(k))*(sorted[k+1]-sorted[k])
}

const eulerGamma = 0.5772156649015329

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n, the mean path length of
// an unsuccessful BST search over n keys, with H(i) ≈ ln(i) + γ.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n)
	return 2*(math.Log(m-1)+eulerGamma) - 2*(m-1)/m
}
