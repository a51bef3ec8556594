package features

import (
	"errors"
	"fmt"
)

// ErrRagged is returned for a matrix whose rows differ in length.
var ErrRagged = errors.New("matrix is not rectangular")

// MinMax rescales every column independently to [0,1] with (x-min)/(max-min).
// A constant column maps to 0. The input is not modified.
func MinMax(matrix [][]float64) ([][]float64, error) {
	if len(matrix) == 0 {
		return nil, nil
	}
	width := len(matrix[0])
	for i, row := range matrix {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRagged, i, len(row), width)
		}
	}

	lo := make([]float64, width)
	hi := make([]float64, width)
	copy(lo, matrix[0])
	copy(hi, matrix[0])
	for _, row := range matrix[1:] {
		for c, v := range row {
			if v < lo[c] {
				lo[c] = v
			}
			if v > hi[c] {
				hi[c] = v
			}
		}
	}

	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		scaled := make([]float64, width)
		for c, v := range row {
			span := hi[c] - lo[c]
			if span == 0 {
				continue
			}
			scaled[c] = (v - lo[c]) / span
		}
		out[i] = scaled
	}
	return out, nil
}

// Table is a named column matrix.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// NormalizeColumns min-max rescales the named columns of t and leaves the others as they are.
// An unknown column name is an error.
func NormalizeColumns(t Table, names ...string) (Table, error) {
	idx := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		idx[c] = i
	}
	picked := make([]int, 0, len(names))
	for _, n := range names {
		i, ok := idx[n]
		if !ok {
			return Table{}, fmt.Errorf("unknown column %q", n)
		}
		picked = append(picked, i)
	}

	sub := make([][]float64, len(t.Rows))
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return Table{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRagged, r, len(row), len(t.Columns))
		}
		vals := make([]float64, len(picked))
		for k, c := range picked {
			vals[k] = row[c]
		}
		sub[r] = vals
	}
	scaled, err := MinMax(sub)
	if err != nil {
		return Table{}, err
	}

	out := Table{Columns: append([]string(nil), t.Columns...), Rows: make([][]float64, len(t.Rows))}
	for r, row := range t.Rows {
		nr := append([]float64(nil), row...)
		for k, c := range picked {
			nr[c] = scaled[r][k]
		}
		out.Rows[r] = nr
	}
	return out, nil
}
