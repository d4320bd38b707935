package compose

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/earthlab-education/hls-composite/internal/raster"
)

// Reduce collapses masked band rows into the terminal composite: per
// band, same-date tiles are mosaicked and swept of non-positive values,
// then the dated mosaics are reduced to a per-pixel median. The
// resulting layers are stacked sorted by band number.
func Reduce(rows []BandRow, logger *slog.Logger) (*raster.Stack, error) {
	if len(rows) == 0 {
		return nil, raster.ErrEmptyInput
	}
	if logger == nil {
		logger = slog.Default()
	}

	byBand := make(map[string][]BandRow)
	for _, r := range rows {
		byBand[r.Band] = append(byBand[r.Band], r)
	}

	bands := make([]string, 0, len(byBand))
	for band := range byBand {
		bands = append(bands, band)
	}
	numbers := make(map[string]int, len(bands))
	for _, band := range bands {
		n, err := parseBandNumber(band)
		if err != nil {
			return nil, err
		}
		numbers[band] = n
	}
	sort.Slice(bands, func(i, j int) bool {
		return numbers[bands[i]] < numbers[bands[j]]
	})

	layers := make([]raster.Layer, 0, len(bands))
	for _, band := range bands {
		grid, err := reduceBand(byBand[band])
		if err != nil {
			return nil, fmt.Errorf("failed to reduce band %s: %w", band, err)
		}
		logger.Info("reduced band",
			slog.String("band", band),
			slog.Int("width", grid.Width),
			slog.Int("height", grid.Height),
		)
		layers = append(layers, raster.Layer{BandNumber: numbers[band], Grid: grid})
	}

	return raster.NewStack(layers)
}

// reduceBand mosaics one band's rows date by date, then takes the
// per-pixel median across the dated mosaics.
func reduceBand(rows []BandRow) (*raster.Grid, error) {
	byDate := make(map[time.Time][]*raster.Grid)
	var dates []time.Time
	for _, r := range rows {
		if _, seen := byDate[r.Time]; !seen {
			dates = append(dates, r.Time)
		}
		byDate[r.Time] = append(byDate[r.Time], r.Grid)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	mosaics := make([]*raster.Grid, 0, len(dates))
	for _, date := range dates {
		merged, err := raster.Merge(byDate[date])
		if err != nil {
			return nil, fmt.Errorf("mosaic at %s: %w", date.Format("2006-01-02"), err)
		}
		mosaics = append(mosaics, raster.SweepNonPositive(merged))
	}

	return raster.MedianStack(mosaics)
}

// parseBandNumber extracts the numeric part of a band code such as
// "B04". Alphanumeric codes like Sentinel-2's "B8A" have no natural
// numeric order and are rejected.
func parseBandNumber(band string) (int, error) {
	if len(band) < len(SpectralBandPrefix)+1 {
		return 0, fmt.Errorf("band code %q too short", band)
	}
	n, err := strconv.Atoi(band[len(SpectralBandPrefix):])
	if err != nil {
		return 0, fmt.Errorf("band code %q is not numeric: %w", band, err)
	}
	return n, nil
}
