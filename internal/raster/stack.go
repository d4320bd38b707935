package raster

import (
	"fmt"
	"math"
	"sort"
)

// VariableName is the name attached to composite reflectance layers.
const VariableName = "reflectance"

// Layer is one band of a composite: a band number plus its reduced grid.
type Layer struct {
	// BandNumber is the numeric part of the band code, e.g. 4 for "B04".
	BandNumber int
	Grid       *Grid
}

// Stack is the terminal composite raster: one layer per spectral band,
// all sharing a spatial frame. Layers are kept sorted by band number.
type Stack struct {
	// Name labels the stacked variable; always VariableName for
	// reflectance composites.
	Name   string
	Layers []Layer
}

// NewStack assembles layers into a stack sorted by band number. Every
// layer must share the first layer's shape, geotransform, and SRS.
func NewStack(layers []Layer) (*Stack, error) {
	if len(layers) == 0 {
		return nil, ErrEmptyInput
	}

	sorted := make([]Layer, len(layers))
	copy(sorted, layers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].BandNumber < sorted[j].BandNumber
	})

	ref := sorted[0].Grid
	for _, l := range sorted[1:] {
		g := l.Grid
		if g.Width != ref.Width || g.Height != ref.Height {
			return nil, fmt.Errorf("%w: band %d is %dx%d but band %d is %dx%d",
				ErrAlignment, l.BandNumber, g.Width, g.Height,
				sorted[0].BandNumber, ref.Width, ref.Height)
		}
		if g.SRS != ref.SRS || g.Transform != ref.Transform {
			return nil, fmt.Errorf("%w: band %d spatial frame differs from band %d",
				ErrAlignment, l.BandNumber, sorted[0].BandNumber)
		}
	}

	return &Stack{Name: VariableName, Layers: sorted}, nil
}

// BandNumbers returns the band numbers in stack order.
func (s *Stack) BandNumbers() []int {
	nums := make([]int, len(s.Layers))
	for i, l := range s.Layers {
		nums[i] = l.BandNumber
	}
	return nums
}

// Layer returns the layer for a band number, or nil if absent.
func (s *Stack) Layer(bandNumber int) *Layer {
	for i := range s.Layers {
		if s.Layers[i].BandNumber == bandNumber {
			return &s.Layers[i]
		}
	}
	return nil
}

// Select returns a new stack restricted to the given band numbers, in
// the given order. Used for RGB extraction (bands 4, 3, 2).
func (s *Stack) Select(bandNumbers ...int) (*Stack, error) {
	layers := make([]Layer, 0, len(bandNumbers))
	for _, n := range bandNumbers {
		l := s.Layer(n)
		if l == nil {
			return nil, fmt.Errorf("band %d not present in stack", n)
		}
		layers = append(layers, *l)
	}
	// Preserve the caller's order; skip NewStack's sort.
	return &Stack{Name: s.Name, Layers: layers}, nil
}

// Sample is one valid spatial cell of the composite: its cell-center
// coordinate and one reflectance value per band, in stack band order.
type Sample struct {
	X, Y   float64
	Values []float64
}

// Samples flattens the stack into a tidy table with one row per spatial
// cell and one column per band. Cells where any band is missing are
// dropped, matching what the downstream clustering step expects.
func (s *Stack) Samples() []Sample {
	if len(s.Layers) == 0 {
		return nil
	}
	ref := s.Layers[0].Grid

	var samples []Sample
	for row := 0; row < ref.Height; row++ {
		for col := 0; col < ref.Width; col++ {
			values := make([]float64, len(s.Layers))
			valid := true
			for i, l := range s.Layers {
				v := l.Grid.At(row, col)
				if math.IsNaN(v) {
					valid = false
					break
				}
				values[i] = v
			}
			if !valid {
				continue
			}
			x, y := ref.pixelCenter(row, col)
			samples = append(samples, Sample{X: x, Y: y, Values: values})
		}
	}
	return samples
}
