// Package raster provides the in-memory raster model for the compositing
// pipeline: single-band grids with an affine geotransform, quality-mask
// decoding, spatial mosaics, and temporal reduction.
package raster

import (
	"fmt"
	"math"
)

// Grid is a single-band raster tile. Pixel values are stored row-major;
// missing pixels are NaN.
type Grid struct {
	// Band is the band code this grid was loaded from, e.g. "B04" or "Fmask".
	Band string

	Width  int
	Height int

	// Transform is the GDAL-style affine geotransform:
	//   x = Transform[0] + col*Transform[1] + row*Transform[2]
	//   y = Transform[3] + col*Transform[4] + row*Transform[5]
	// Only axis-aligned transforms (Transform[2] == Transform[4] == 0)
	// are supported by the mosaic and reduction steps.
	Transform [6]float64

	// SRS identifies the coordinate reference system, either as an
	// "EPSG:nnnn" code or a WKT string. Grids are only ever combined with
	// grids carrying an identical SRS.
	SRS string

	// Data holds Width*Height values, row-major, NaN for missing.
	Data []float64
}

// NewGrid allocates a grid of the given shape with every pixel missing.
func NewGrid(band string, width, height int, transform [6]float64, srs string) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{
		Band:      band,
		Width:     width,
		Height:    height,
		Transform: transform,
		SRS:       srs,
		Data:      data,
	}
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 {
	return g.Data[row*g.Width+col]
}

// Set stores a value at (row, col).
func (g *Grid) Set(row, col int, v float64) {
	g.Data[row*g.Width+col] = v
}

// IsMissing reports whether the pixel at (row, col) has no value.
func (g *Grid) IsMissing(row, col int) bool {
	return math.IsNaN(g.At(row, col))
}

// Scale multiplies every non-missing pixel by factor in place and
// returns the grid.
func (g *Grid) Scale(factor float64) *Grid {
	if factor == 1 {
		return g
	}
	for i, v := range g.Data {
		if !math.IsNaN(v) {
			g.Data[i] = v * factor
		}
	}
	return g
}

// CellSize returns the pixel width and height in map units. The height
// is returned as a positive quantity even for north-up rasters, where
// Transform[5] is negative.
func (g *Grid) CellSize() (dx, dy float64) {
	return math.Abs(g.Transform[1]), math.Abs(g.Transform[5])
}

// Bounds returns the spatial extent of the grid as
// [minX, minY, maxX, maxY] in the grid's coordinate system.
func (g *Grid) Bounds() [4]float64 {
	x0 := g.Transform[0]
	y0 := g.Transform[3]
	x1 := x0 + float64(g.Width)*g.Transform[1]
	y1 := y0 + float64(g.Height)*g.Transform[5]
	return [4]float64{
		math.Min(x0, x1),
		math.Min(y0, y1),
		math.Max(x0, x1),
		math.Max(y0, y1),
	}
}

// worldToPixel maps a map coordinate to fractional (col, row) indices.
func (g *Grid) worldToPixel(x, y float64) (col, row float64) {
	col = (x - g.Transform[0]) / g.Transform[1]
	row = (y - g.Transform[3]) / g.Transform[5]
	return col, row
}

// pixelCenter returns the map coordinate of the center of pixel (row, col).
func (g *Grid) pixelCenter(row, col int) (x, y float64) {
	x = g.Transform[0] + (float64(col)+0.5)*g.Transform[1]
	y = g.Transform[3] + (float64(row)+0.5)*g.Transform[5]
	return x, y
}

// axisAligned reports whether the geotransform has no rotation terms.
func (g *Grid) axisAligned() bool {
	return g.Transform[2] == 0 && g.Transform[4] == 0
}

// compatible verifies that two grids can participate in the same mosaic:
// identical SRS, identical cell size, and axis-aligned transforms.
func compatible(a, b *Grid) error {
	if !a.axisAligned() || !b.axisAligned() {
		return fmt.Errorf("%w: rotated geotransforms are not supported", ErrAlignment)
	}
	if a.SRS != b.SRS {
		return fmt.Errorf("%w: coordinate systems differ (%s vs %s)", ErrAlignment, a.SRS, b.SRS)
	}
	adx, ady := a.CellSize()
	bdx, bdy := b.CellSize()
	const eps = 1e-9
	if math.Abs(adx-bdx) > eps || math.Abs(ady-bdy) > eps {
		return fmt.Errorf("%w: cell sizes differ (%g,%g vs %g,%g)", ErrAlignment, adx, ady, bdx, bdy)
	}
	return nil
}
