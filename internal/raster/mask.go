package raster

import (
	"fmt"
	"math"
)

// DefaultMaskBits are the Fmask bit positions that disqualify a pixel:
// cloud (1), adjacent to cloud (2), and cloud shadow (3).
var DefaultMaskBits = []int{1, 2, 3}

// Mask is a boolean usability grid aligned 1:1 with the tile it was
// derived from.
type Mask struct {
	Width  int
	Height int
	Usable []bool
}

// QualityMask decodes a packed 8-bit Fmask grid into a per-pixel
// usability mask. Each pixel value is unpacked into its 8 bits
// (least-significant first) and the pixel is usable if and only if every
// bit listed in maskBits is zero. A missing Fmask pixel is unusable.
func QualityMask(fmask *Grid, maskBits []int) (*Mask, error) {
	if len(maskBits) == 0 {
		maskBits = DefaultMaskBits
	}
	for _, bit := range maskBits {
		if bit < 0 || bit > 7 {
			return nil, fmt.Errorf("mask bit %d out of range [0,7]", bit)
		}
	}

	m := &Mask{
		Width:  fmask.Width,
		Height: fmask.Height,
		Usable: make([]bool, fmask.Width*fmask.Height),
	}

	for i, v := range fmask.Data {
		if math.IsNaN(v) {
			continue
		}
		flags := uint8(v)
		usable := true
		for _, bit := range maskBits {
			if flags>>uint(bit)&1 == 1 {
				usable = false
				break
			}
		}
		m.Usable[i] = usable
	}

	return m, nil
}

// Apply marks every pixel of g that the mask flags as unusable as
// missing, in place. The mask and grid must have identical shapes.
func (m *Mask) Apply(g *Grid) error {
	if g.Width != m.Width || g.Height != m.Height {
		return fmt.Errorf("%w: band is %dx%d but mask is %dx%d",
			ErrAlignment, g.Width, g.Height, m.Width, m.Height)
	}
	for i := range g.Data {
		if !m.Usable[i] {
			g.Data[i] = math.NaN()
		}
	}
	return nil
}
