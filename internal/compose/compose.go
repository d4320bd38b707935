// Package compose implements the heart of the pipeline: masking and
// collecting per-granule band rasters, mosaicking same-date tiles, and
// reducing the dates into one gap-filled composite per band.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"github.com/earthlab-education/hls-composite/internal/gdalio"
	"github.com/earthlab-education/hls-composite/internal/links"
	"github.com/earthlab-education/hls-composite/internal/raster"
)

const (
	// SpectralBandPrefix distinguishes reflectance bands ("B02", "B04",
	// ...) from Fmask and other auxiliary layers.
	SpectralBandPrefix = "B"

	// FmaskBand is the band code of the per-pixel quality layer.
	FmaskBand = "Fmask"

	// ReflectanceScale converts HLS digital counts to reflectance.
	ReflectanceScale = 0.0001
)

// BandLoader opens one band raster cropped to the study boundary.
// Satisfied by *gdalio.Loader; tests substitute an in-memory fake.
type BandLoader interface {
	Load(ctx context.Context, row links.Row, opts gdalio.LoadOptions) (*raster.Grid, error)
}

// BandRow is a link-table row carrying its loaded, cloud-masked raster.
type BandRow struct {
	links.Row
	Grid *raster.Grid
}

// Compositor loads and cloud-masks every spectral band of every granule
// in a link table.
type Compositor struct {
	loader   BandLoader
	maskBits []int
	logger   *slog.Logger
	progress bool
}

// NewCompositor creates a compositor using the default Fmask bits.
func NewCompositor(loader BandLoader) *Compositor {
	return &Compositor{
		loader:   loader,
		maskBits: raster.DefaultMaskBits,
		logger:   slog.Default(),
	}
}

// WithMaskBits overrides the disqualifying Fmask bit positions.
func (c *Compositor) WithMaskBits(bits []int) *Compositor {
	c.maskBits = bits
	return c
}

// WithLogger sets a custom logger for the compositor.
func (c *Compositor) WithLogger(logger *slog.Logger) *Compositor {
	c.logger = logger
	return c
}

// WithProgress enables a terminal progress bar over granule groups.
func (c *Compositor) WithProgress(enabled bool) *Compositor {
	c.progress = enabled
	return c
}

// Run processes every (timestamp, tile) group of the link table: load
// and crop the group's Fmask, decode the quality mask, then load, scale,
// and mask each spectral band. The returned rows are restricted to
// spectral bands. A group without an Fmask file fails: no band can be
// trusted without its mask.
func (c *Compositor) Run(ctx context.Context, table *links.Table) ([]BandRow, error) {
	groups := table.GroupByGranule()

	var bar *pb.ProgressBar
	if c.progress {
		bar = pb.StartNew(len(groups))
		defer bar.Finish()
	}

	var rows []BandRow
	for _, group := range groups {
		c.logger.InfoContext(ctx, "processing granule",
			slog.String("tile", group.Key.TileID),
			slog.Time("datetime", group.Key.Time),
		)

		groupRows, err := c.processGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		rows = append(rows, groupRows...)

		if bar != nil {
			bar.Increment()
		}
	}

	return rows, nil
}

func (c *Compositor) processGroup(ctx context.Context, group links.Group) ([]BandRow, error) {
	fmaskRow, ok := group.FindBand(FmaskBand)
	if !ok {
		return nil, fmt.Errorf("granule %s at %s has no Fmask file",
			group.Key.TileID, group.Key.Time.Format("2006-01-02T15:04:05Z"))
	}

	// Fmask is read raw: no nodata masking, no scaling, so the packed
	// flag values survive intact.
	fmaskGrid, err := c.loader.Load(ctx, fmaskRow, gdalio.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load Fmask for %s: %w", group.Key.TileID, err)
	}

	mask, err := raster.QualityMask(fmaskGrid, c.maskBits)
	if err != nil {
		return nil, fmt.Errorf("failed to build quality mask for %s: %w", group.Key.TileID, err)
	}

	var rows []BandRow
	for _, row := range group.Rows {
		if !strings.HasPrefix(row.Band, SpectralBandPrefix) {
			continue
		}

		grid, err := c.loader.Load(ctx, row, gdalio.LoadOptions{
			Scale:  ReflectanceScale,
			Masked: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load band %s of %s: %w", row.Band, row.TileID, err)
		}

		if err := mask.Apply(grid); err != nil {
			return nil, fmt.Errorf("failed to mask band %s of %s: %w", row.Band, row.TileID, err)
		}

		rows = append(rows, BandRow{Row: row, Grid: grid})
	}

	return rows, nil
}
