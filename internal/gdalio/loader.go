// Package gdalio loads remote raster tiles through GDAL (via godal):
// open over /vsicurl/, crop to the study boundary's bounding box, honor
// the no-data sentinel, and apply the band scale factor.
package gdalio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/godal"

	"github.com/earthlab-education/hls-composite/internal/links"
	"github.com/earthlab-education/hls-composite/internal/raster"
	"github.com/earthlab-education/hls-composite/pkg/geojson"
)

// HTTPRetryConfig holds GDAL's global HTTP retry parameters. These are
// process-wide and must be configured once, before any raster is opened.
type HTTPRetryConfig struct {
	MaxRetry   int
	RetryDelay time.Duration
}

// Register configures GDAL's HTTP retry behavior and registers all GDAL
// drivers. Call once at startup before constructing a Loader.
func Register(cfg HTTPRetryConfig) {
	if cfg.MaxRetry > 0 {
		os.Setenv("GDAL_HTTP_MAX_RETRY", strconv.Itoa(cfg.MaxRetry))
	}
	if cfg.RetryDelay > 0 {
		os.Setenv("GDAL_HTTP_RETRY_DELAY", strconv.Itoa(int(cfg.RetryDelay.Seconds())))
	}
	godal.RegisterAll()
}

// LoadOptions controls how a single band raster is read.
type LoadOptions struct {
	// Scale multiplies every valid pixel; 0 is treated as 1.
	Scale float64

	// Masked treats the raster's no-data sentinel as missing. Fmask
	// tiles are read unmasked so the packed flag values survive intact.
	Masked bool
}

// Loader opens band rasters cropped to a fixed study boundary. The
// boundary's bounding box is reprojected into each raster's coordinate
// system on first encounter and cached, since every band of a tile
// shares one coordinate system.
type Loader struct {
	boundary *geojson.Boundary
	logger   *slog.Logger

	// projected caches the boundary bbox per raster SRS (WKT keyed).
	projected map[string][4]float64
}

// NewLoader creates a loader that crops every read to the boundary's
// bounding box.
func NewLoader(boundary *geojson.Boundary) *Loader {
	return &Loader{
		boundary:  boundary,
		projected: make(map[string][4]float64),
	}
}

// WithLogger sets a custom logger for the loader.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

// Load opens the raster behind a link-table row, crops it to the study
// boundary's bounding box, and returns it as a grid. Transient network
// failures are retried below this layer by GDAL's global HTTP retry
// policy; an error here is fatal.
func (l *Loader) Load(ctx context.Context, row links.Row, opts LoadOptions) (*raster.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := vsiPath(row.Href)
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", row.Href, err)
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to read geotransform of %s: %w", row.Href, err)
	}
	srs := ds.Projection()
	structure := ds.Structure()

	bbox, err := l.projectedBBox(srs)
	if err != nil {
		return nil, err
	}

	win, err := computeWindow(gt, structure.SizeX, structure.SizeY, bbox)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", row.Href, err)
	}

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster %s has no bands", row.Href)
	}
	band := bands[0]

	data := make([]float64, win.width*win.height)
	if err := band.Read(win.col0, win.row0, data, win.width, win.height); err != nil {
		return nil, fmt.Errorf("failed to read window of %s: %w", row.Href, err)
	}

	nodata, hasNodata := band.NoData()
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	applyMaskAndScale(data, nodata, hasNodata, opts.Masked, scale)

	grid := &raster.Grid{
		Band:      row.Band,
		Width:     win.width,
		Height:    win.height,
		Transform: win.transform(gt),
		SRS:       srs,
		Data:      data,
	}

	if l.logger != nil {
		l.logger.DebugContext(ctx, "loaded band raster",
			slog.String("band", row.Band),
			slog.String("tile", row.TileID),
			slog.Int("width", win.width),
			slog.Int("height", win.height),
		)
	}
	return grid, nil
}

// projectedBBox returns the boundary bbox in the raster's coordinate
// system, computing and caching it per SRS.
func (l *Loader) projectedBBox(srsWKT string) ([4]float64, error) {
	if bbox, ok := l.projected[srsWKT]; ok {
		return bbox, nil
	}

	src, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return [4]float64{}, fmt.Errorf("failed to create geographic SRS: %w", err)
	}
	defer src.Close()

	dst, err := godal.NewSpatialRefFromWKT(srsWKT)
	if err != nil {
		return [4]float64{}, fmt.Errorf("failed to parse raster SRS: %w", err)
	}
	defer dst.Close()

	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		return [4]float64{}, fmt.Errorf("failed to create SRS transform: %w", err)
	}
	defer trn.Close()

	b := l.boundary.BBox
	xs := []float64{b[0], b[2], b[0], b[2]}
	ys := []float64{b[1], b[1], b[3], b[3]}
	if err := trn.TransformEx(xs, ys, nil, nil); err != nil {
		return [4]float64{}, fmt.Errorf("failed to reproject boundary bbox: %w", err)
	}

	bbox := [4]float64{
		math.Min(math.Min(xs[0], xs[1]), math.Min(xs[2], xs[3])),
		math.Min(math.Min(ys[0], ys[1]), math.Min(ys[2], ys[3])),
		math.Max(math.Max(xs[0], xs[1]), math.Max(xs[2], xs[3])),
		math.Max(math.Max(ys[0], ys[1]), math.Max(ys[2], ys[3])),
	}
	l.projected[srsWKT] = bbox
	return bbox, nil
}

// vsiPath maps an HTTPS href onto GDAL's /vsicurl/ virtual filesystem;
// local paths pass through unchanged.
func vsiPath(href string) string {
	if strings.HasPrefix(href, "https://") || strings.HasPrefix(href, "http://") {
		return "/vsicurl/" + href
	}
	return href
}

// window is a pixel-space crop region.
type window struct {
	col0, row0    int
	width, height int
}

// transform returns the geotransform of the cropped grid.
func (w window) transform(gt [6]float64) [6]float64 {
	return [6]float64{
		gt[0] + float64(w.col0)*gt[1],
		gt[1],
		0,
		gt[3] + float64(w.row0)*gt[5],
		0,
		gt[5],
	}
}

// computeWindow intersects a projected bounding box with the raster's
// pixel grid. Only axis-aligned, north-up geotransforms are supported.
func computeWindow(gt [6]float64, sizeX, sizeY int, bbox [4]float64) (window, error) {
	if gt[2] != 0 || gt[4] != 0 {
		return window{}, fmt.Errorf("rotated rasters are not supported")
	}
	if gt[1] <= 0 || gt[5] >= 0 {
		return window{}, fmt.Errorf("unexpected geotransform orientation")
	}

	col0 := int(math.Floor((bbox[0] - gt[0]) / gt[1]))
	col1 := int(math.Ceil((bbox[2] - gt[0]) / gt[1]))
	// gt[5] is negative for north-up rasters: the top row corresponds to
	// the bbox's north edge.
	row0 := int(math.Floor((bbox[3] - gt[3]) / gt[5]))
	row1 := int(math.Ceil((bbox[1] - gt[3]) / gt[5]))

	col0 = max(col0, 0)
	row0 = max(row0, 0)
	col1 = min(col1, sizeX)
	row1 = min(row1, sizeY)

	if col0 >= col1 || row0 >= row1 {
		return window{}, fmt.Errorf("boundary does not intersect raster extent")
	}

	return window{
		col0:   col0,
		row0:   row0,
		width:  col1 - col0,
		height: row1 - row0,
	}, nil
}

// applyMaskAndScale converts sentinel values to missing (when masked)
// and applies the scale factor to the surviving pixels, in place.
func applyMaskAndScale(data []float64, nodata float64, hasNodata, masked bool, scale float64) {
	for i, v := range data {
		if masked && hasNodata && v == nodata {
			data[i] = math.NaN()
			continue
		}
		if scale != 1 {
			data[i] = v * scale
		}
	}
}
