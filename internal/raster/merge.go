package raster

import (
	"math"
)

// Merge mosaics grids that share a coordinate system and cell size into
// one grid covering their union extent. Where grids overlap, the first
// grid with a value at a pixel wins. The output lattice is anchored to
// the first grid's pixel grid so that co-registered tiles merge without
// resampling.
func Merge(grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, ErrEmptyInput
	}
	if len(grids) == 1 {
		out := grids[0].clone()
		return out, nil
	}

	ref := grids[0]
	for _, g := range grids[1:] {
		if err := compatible(ref, g); err != nil {
			return nil, err
		}
	}

	out := newUnionGrid(grids)

	for _, g := range grids {
		paint(out, g)
	}

	return out, nil
}

// SweepNonPositive marks every pixel with a value <= 0 as missing, in
// place, and returns the grid. Merging can reintroduce the raw no-data
// sentinel as a small negative artifact, so the sweep runs after every
// mosaic.
func SweepNonPositive(g *Grid) *Grid {
	for i, v := range g.Data {
		if !math.IsNaN(v) && v <= 0 {
			g.Data[i] = math.NaN()
		}
	}
	return g
}

// newUnionGrid allocates an empty grid covering the union extent of the
// inputs, on the lattice of the first input.
func newUnionGrid(grids []*Grid) *Grid {
	ref := grids[0]
	union := ref.Bounds()
	for _, g := range grids[1:] {
		b := g.Bounds()
		union[0] = math.Min(union[0], b[0])
		union[1] = math.Min(union[1], b[1])
		union[2] = math.Max(union[2], b[2])
		union[3] = math.Max(union[3], b[3])
	}

	dx, dy := ref.CellSize()

	// Snap the union origin outward onto the reference lattice.
	originX := ref.Transform[0] - math.Ceil((ref.Transform[0]-union[0])/dx)*dx
	originY := ref.Transform[3] + math.Ceil((union[3]-ref.Transform[3])/dy)*dy

	width := int(math.Ceil((union[2] - originX) / dx))
	height := int(math.Ceil((originY - union[1]) / dy))

	transform := [6]float64{originX, dx, 0, originY, 0, -dy}
	return NewGrid(ref.Band, width, height, transform, ref.SRS)
}

// paint copies every non-missing pixel of src into dst at the pixel the
// src pixel center falls in, without overwriting values already present.
func paint(dst, src *Grid) {
	for row := 0; row < src.Height; row++ {
		for col := 0; col < src.Width; col++ {
			v := src.At(row, col)
			if math.IsNaN(v) {
				continue
			}
			x, y := src.pixelCenter(row, col)
			fc, fr := dst.worldToPixel(x, y)
			dc, dr := int(math.Floor(fc)), int(math.Floor(fr))
			if dc < 0 || dc >= dst.Width || dr < 0 || dr >= dst.Height {
				continue
			}
			if dst.IsMissing(dr, dc) {
				dst.Set(dr, dc, v)
			}
		}
	}
}

func (g *Grid) clone() *Grid {
	data := make([]float64, len(g.Data))
	copy(data, g.Data)
	return &Grid{
		Band:      g.Band,
		Width:     g.Width,
		Height:    g.Height,
		Transform: g.Transform,
		SRS:       g.SRS,
		Data:      data,
	}
}
