package raster

import (
	"math"
	"sort"
)

// MedianStack reduces a stack of same-CRS grids (one per date) to a
// single grid by taking the per-pixel median of the non-missing values.
// A pixel missing on every date stays missing. The output covers the
// union extent of the inputs on the first input's lattice, so dates with
// differing tile coverage still contribute where they have data.
func MedianStack(grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, ErrEmptyInput
	}
	if len(grids) == 1 {
		return grids[0].clone(), nil
	}

	ref := grids[0]
	for _, g := range grids[1:] {
		if err := compatible(ref, g); err != nil {
			return nil, err
		}
	}

	out := newUnionGrid(grids)

	values := make([]float64, 0, len(grids))
	for row := 0; row < out.Height; row++ {
		for col := 0; col < out.Width; col++ {
			x, y := out.pixelCenter(row, col)
			values = values[:0]
			for _, g := range grids {
				fc, fr := g.worldToPixel(x, y)
				sc, sr := int(math.Floor(fc)), int(math.Floor(fr))
				if sc < 0 || sc >= g.Width || sr < 0 || sr >= g.Height {
					continue
				}
				if v := g.At(sr, sc); !math.IsNaN(v) {
					values = append(values, v)
				}
			}
			if len(values) > 0 {
				out.Set(row, col, median(values))
			}
		}
	}

	return out, nil
}

// median computes the median of values, reordering the slice in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
