package features

import (
	"fmt"
	"math"
)

// Cosine returns the cosine similarity of a and b. A zero-norm operand scores 0.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MeanRowCosine averages Cosine over paired rows of x and y.
func MeanRowCosine(x, y [][]float64) (float64, error) {
	if err := samePairs(x, y); err != nil {
		return 0, err
	}
	if len(x) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range x {
		sum += Cosine(x[i], y[i])
	}
	return sum / float64(len(x)), nil
}

// MSE is the mean squared elementwise error of x against y.
func MSE(x, y [][]float64) (float64, error) {
	if err := samePairs(x, y); err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for i := range x {
		for j := range x[i] {
			d := x[i][j] - y[i][j]
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func samePairs(x, y [][]float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("row count %d != %d", len(x), len(y))
	}
	for i := range x {
		if len(x[i]) != len(y[i]) {
			return fmt.Errorf("row %d: width %d != %d", i, len(x[i]), len(y[i]))
		}
	}
	return nil
}
