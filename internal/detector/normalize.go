package detector

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Sanitize replaces every NaN or infinite entry of x with 0 in place and
// returns the number of entries it replaced. A missing metric is treated as
// neutral rather than extreme. Running it twice changes nothing.
func Sanitize(x *mat.Dense) int {
	if x == nil {
		return 0
	}
	r, c := x.Dims()
	replaced := 0
	for i := 0; i < r; i++ {
		row := x.RawRowView(i)
		for j := 0; j < c; j++ {
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				row[j] = 0
				replaced++
			}
		}
	}
	return replaced
}

// Standardize returns a copy of x in which every column has zero mean and
// unit population standard deviation, using statistics of x alone. Constant
// columns become all zeros. x must already be sanitized.
func Standardize(x *mat.Dense) *mat.Dense {
	if x == nil || x.IsEmpty() {
		return nil
	}
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		if floats.Min(col) == floats.Max(col) {
			continue
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		std := math.Sqrt(variance)
		for i := 0; i < r; i++ {
			out.Set(i, j, (col[i]-mean)/std)
		}
	}
	return out
}
