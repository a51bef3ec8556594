package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinMaxRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := make([][]float64, 50)
	for i := range m {
		m[i] = []float64{rng.NormFloat64() * 1e6, rng.Float64(), float64(i)}
	}
	out, err := MinMax(m)
	require.NoError(t, err)
	require.Len(t, out, 50)

	for c := 0; c < 3; c++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range out {
			v := row[c]
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		assert.Equal(t, 0.0, lo)
		assert.InDelta(t, 1.0, hi, 1e-12)
	}
	assert.Equal(t, 0.0, out[0][2])
	assert.InDelta(t, 1.0, out[49][2], 1e-12)
}

func TestMinMaxConstantColumnIsZero(t *testing.T) {
	out, err := MinMax([][]float64{{5, 1}, {5, 3}, {5, 2}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0}, {0, 1}, {0, 0.5}}, out)
}

func TestMinMaxRejectsRagged(t *testing.T) {
	_, err := MinMax([][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrRagged)

	out, err := MinMax(nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestMinMaxDoesNotMutate(t *testing.T) {
	in := [][]float64{{1}, {3}}
	_, err := MinMax(in)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {3}}, in)
}

func TestNormalizeColumns(t *testing.T) {
	tbl := Table{Columns: []string{"timestamp", "close"}, Rows: [][]float64{{100, 10}, {200, 20}, {300, 15}}}
	out, err := NormalizeColumns(tbl, "close")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{100, 0}, {200, 1}, {300, 0.5}}, out.Rows)
	assert.Equal(t, 10.0, tbl.Rows[0][1], "input untouched")

	_, err = NormalizeColumns(tbl, "volume")
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"scaled", []float64{1, 2}, []float64{2, 4}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 1}, []float64{-1, -1}, -1},
		{"zero norm", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-12)
		})
	}
}

func TestMeanRowCosineAndMSE(t *testing.T) {
	x := [][]float64{{1, 0}, {0, 1}}
	y := [][]float64{{1, 0}, {1, 0}}
	c, err := MeanRowCosine(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c, 1e-12)

	m, err := MSE(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m, 1e-12)

	_, err = MSE(x, y[:1])
	assert.Error(t, err)
}
