package compose

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthlab-education/hls-composite/internal/cache"
	"github.com/earthlab-education/hls-composite/internal/cmr"
	"github.com/earthlab-education/hls-composite/internal/gdalio"
	"github.com/earthlab-education/hls-composite/internal/links"
	"github.com/earthlab-education/hls-composite/internal/raster"
)

const testSRS = "EPSG:32615"

func mkGrid(band string, width, height int, originX, originY float64, values []float64) *raster.Grid {
	g := raster.NewGrid(band, width, height, [6]float64{originX, 30, 0, originY, 0, -30}, testSRS)
	copy(g.Data, values)
	return g
}

// fakeLoader serves fixture grids by href. Fixtures are copied on every
// load so downstream masking cannot corrupt them between calls.
type fakeLoader struct {
	grids map[string]*raster.Grid
	opts  map[string]gdalio.LoadOptions
	calls int
}

func (f *fakeLoader) Load(_ context.Context, row links.Row, opts gdalio.LoadOptions) (*raster.Grid, error) {
	f.calls++
	g, ok := f.grids[row.Href]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", row.Href)
	}
	if f.opts != nil {
		f.opts[row.Href] = opts
	}
	data := make([]float64, len(g.Data))
	copy(data, g.Data)
	out := *g
	out.Data = data
	if opts.Scale != 0 {
		out.Scale(opts.Scale)
	}
	return &out, nil
}

func TestCompositor_Run(t *testing.T) {
	when := time.Date(2024, 6, 28, 16, 39, 1, 0, time.UTC)
	table := &links.Table{Rows: []links.Row{
		{Time: when, TileID: "T15RYN", Band: "B04", Href: "b04"},
		{Time: when, TileID: "T15RYN", Band: "Fmask", Href: "fmask"},
		{Time: when, TileID: "T15RYN", Band: "SZA", Href: "sza"},
	}}

	loader := &fakeLoader{
		grids: map[string]*raster.Grid{
			// Bit 1 set at pixel (0,1): cloud.
			"fmask": mkGrid("Fmask", 2, 2, 0, 60, []float64{0, 2, 0, 64}),
			"b04":   mkGrid("B04", 2, 2, 0, 60, []float64{1000, 2000, 3000, 4000}),
		},
		opts: make(map[string]gdalio.LoadOptions),
	}

	rows, err := NewCompositor(loader).Run(context.Background(), table)
	require.NoError(t, err)

	// Only the spectral band survives; SZA is never even loaded.
	require.Len(t, rows, 1)
	assert.Equal(t, "B04", rows[0].Band)
	assert.NotContains(t, loader.opts, "sza")

	// Fmask is read raw, spectral bands masked and scaled.
	assert.Equal(t, gdalio.LoadOptions{}, loader.opts["fmask"])
	assert.Equal(t, gdalio.LoadOptions{Scale: ReflectanceScale, Masked: true}, loader.opts["b04"])

	g := rows[0].Grid
	assert.InDelta(t, 0.1, g.At(0, 0), 1e-12)
	assert.True(t, math.IsNaN(g.At(0, 1)), "cloudy pixel must be masked")
	assert.InDelta(t, 0.3, g.At(1, 0), 1e-12)
	assert.InDelta(t, 0.4, g.At(1, 1), 1e-12)
}

func TestCompositor_Run_MissingFmask(t *testing.T) {
	when := time.Date(2024, 6, 28, 16, 39, 1, 0, time.UTC)
	table := &links.Table{Rows: []links.Row{
		{Time: when, TileID: "T15RYN", Band: "B04", Href: "b04"},
	}}

	_, err := NewCompositor(&fakeLoader{}).Run(context.Background(), table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Fmask")
}

func TestReduce(t *testing.T) {
	d1 := time.Date(2024, 6, 28, 16, 39, 1, 0, time.UTC)
	d2 := time.Date(2024, 7, 14, 16, 39, 5, 0, time.UTC)

	// Date 1: two adjacent tiles, with one masked pixel in the west tile
	// and one negative merge artifact in the east tile.
	west := mkGrid("B04", 2, 2, 0, 60, []float64{math.NaN(), 0.2, 0.2, 0.2})
	east := mkGrid("B04", 2, 2, 60, 60, []float64{-0.5, 0.4, 0.4, 0.4})
	// Date 2: a single tile covering the full union.
	full := mkGrid("B04", 4, 2, 0, 60, []float64{
		0.6, 0.6, 0.6, 0.6,
		0.6, 0.6, 0.6, 0.6,
	})

	rows := []BandRow{
		{Row: links.Row{Time: d1, TileID: "T15RYN", Band: "B04"}, Grid: west},
		{Row: links.Row{Time: d1, TileID: "T15RYP", Band: "B04"}, Grid: east},
		{Row: links.Row{Time: d2, TileID: "T15RYN", Band: "B04"}, Grid: full},
	}

	stack, err := Reduce(rows, nil)
	require.NoError(t, err)

	require.Equal(t, []int{4}, stack.BandNumbers())
	g := stack.Layer(4).Grid
	require.Equal(t, 4, g.Width)
	require.Equal(t, 2, g.Height)

	// Median of two dates averages them; single-date pixels pass through.
	assert.InDelta(t, 0.6, g.At(0, 0), 1e-12, "masked on date 1, date 2 alone survives")
	assert.InDelta(t, 0.4, g.At(0, 1), 1e-12)
	assert.InDelta(t, 0.6, g.At(0, 2), 1e-12, "negative artifact swept before reduction")
	assert.InDelta(t, 0.5, g.At(0, 3), 1e-12)
	assert.InDelta(t, 0.4, g.At(1, 0), 1e-12)
}

func TestReduce_SortsBandsNumerically(t *testing.T) {
	when := time.Date(2024, 6, 28, 16, 39, 1, 0, time.UTC)
	rows := []BandRow{
		{Row: links.Row{Time: when, TileID: "T", Band: "B11"}, Grid: mkGrid("B11", 1, 1, 0, 30, []float64{0.3})},
		{Row: links.Row{Time: when, TileID: "T", Band: "B02"}, Grid: mkGrid("B02", 1, 1, 0, 30, []float64{0.1})},
		{Row: links.Row{Time: when, TileID: "T", Band: "B04"}, Grid: mkGrid("B04", 1, 1, 0, 30, []float64{0.2})},
	}

	stack, err := Reduce(rows, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 11}, stack.BandNumbers())
}

func TestReduce_RejectsNonNumericBand(t *testing.T) {
	when := time.Date(2024, 6, 28, 16, 39, 1, 0, time.UTC)
	rows := []BandRow{
		{Row: links.Row{Time: when, TileID: "T", Band: "B8A"}, Grid: mkGrid("B8A", 1, 1, 0, 30, []float64{0.1})},
	}

	_, err := Reduce(rows, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B8A")
}

func TestReduce_Empty(t *testing.T) {
	_, err := Reduce(nil, nil)
	assert.ErrorIs(t, err, raster.ErrEmptyInput)
}

// fakeFiles resolves granule URs to fixture file lists for the pipeline
// test.
type fakeFiles struct {
	files map[string][]string
}

func (f *fakeFiles) ResolveFiles(_ context.Context, granuleUR string) ([]string, error) {
	return f.files[granuleUR], nil
}

func pipelineGranule(ur, beginning string) cmr.UMMGranule {
	return cmr.UMMGranule{
		GranuleUR: ur,
		TemporalExtent: &cmr.TemporalExtent{
			RangeDateTime: &cmr.RangeDateTime{BeginningDateTime: beginning},
		},
		SpatialExtent: &cmr.SpatialExtent{
			HorizontalSpatialDomain: &cmr.HorizontalSpatialDomain{
				Geometry: &cmr.Geometry{
					GPolygons: []cmr.GPolygon{{
						Boundary: cmr.Boundary{Points: []cmr.Point{
							{Longitude: -90.5, Latitude: 29.1},
							{Longitude: -89.2, Latitude: 29.1},
							{Longitude: -89.2, Latitude: 30.0},
						}},
					}},
				},
			},
		},
	}
}

func TestPipeline_Run_CachesAcrossRuns(t *testing.T) {
	granules := []cmr.UMMGranule{
		pipelineGranule("HLS.L30.T15RYN.2024180T163901.v2.0", "2024-06-28T16:39:01Z"),
	}

	resolver := links.NewResolver(&fakeFiles{files: map[string][]string{
		"HLS.L30.T15RYN.2024180T163901.v2.0": {
			"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.B04.tif",
			"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.Fmask.tif",
		},
	}})

	loader := &fakeLoader{grids: map[string]*raster.Grid{
		"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.Fmask.tif": mkGrid("Fmask", 2, 2, 0, 60, []float64{0, 0, 0, 0}),
		"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.B04.tif":   mkGrid("B04", 2, 2, 0, 60, []float64{1000, 2000, 3000, 4000}),
	}}

	store := cache.NewStore(t.TempDir())
	pipeline := NewPipeline(resolver, NewCompositor(loader), store, "delta")

	stack, err := pipeline.Run(context.Background(), granules)
	require.NoError(t, err)
	require.Equal(t, []int{4}, stack.BandNumbers())
	loadsAfterFirstRun := loader.calls
	require.Positive(t, loadsAfterFirstRun)

	// Both stages land on disk under the run name.
	assert.True(t, store.Exists("reflectance_rows_delta"))
	assert.True(t, store.Exists("reflectance_composite_delta"))

	// A second run is served entirely from the cache.
	again, err := pipeline.Run(context.Background(), granules)
	require.NoError(t, err)
	assert.Equal(t, loadsAfterFirstRun, loader.calls)
	assert.Equal(t, stack.BandNumbers(), again.BandNumbers())
	assert.InDelta(t, stack.Layer(4).Grid.At(0, 0), again.Layer(4).Grid.At(0, 0), 1e-12)

	// Overriding forces the loads to happen again.
	_, err = pipeline.WithOverride(true, false).Run(context.Background(), granules)
	require.NoError(t, err)
	assert.Greater(t, loader.calls, loadsAfterFirstRun)
}

func TestWriteCSV(t *testing.T) {
	b02 := mkGrid("B02", 2, 1, 0, 30, []float64{0.1, math.NaN()})
	b04 := mkGrid("B04", 2, 1, 0, 30, []float64{0.3, 0.4})

	stack, err := raster.NewStack([]raster.Layer{
		{BandNumber: 4, Grid: b04},
		{BandNumber: 2, Grid: b02},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, stack))

	// The cell whose B02 value is missing is dropped.
	assert.Equal(t, "x,y,B02,B04\n15,15,0.1,0.3\n", buf.String())
}

func TestPipeline_Run_TwoGranulesTwoDates(t *testing.T) {
	granules := []cmr.UMMGranule{
		pipelineGranule("HLS.L30.T15RYN.2024180T163901.v2.0", "2024-06-28T16:39:01Z"),
		pipelineGranule("HLS.L30.T15RYP.2024196T163905.v2.0", "2024-07-14T16:39:05Z"),
	}

	resolver := links.NewResolver(&fakeFiles{files: map[string][]string{
		"HLS.L30.T15RYN.2024180T163901.v2.0": {
			"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.B04.tif",
			"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.Fmask.tif",
		},
		"HLS.L30.T15RYP.2024196T163905.v2.0": {
			"https://host/HLS.L30.T15RYP.2024196T163905.v2.0.B04.tif",
			"https://host/HLS.L30.T15RYP.2024196T163905.v2.0.Fmask.tif",
		},
	}})

	// The first overpass covers the western tile with one cloudy pixel;
	// the second covers the adjacent eastern tile with one no-data
	// sentinel that survives masking and must be swept after the mosaic.
	loader := &fakeLoader{grids: map[string]*raster.Grid{
		"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.Fmask.tif": mkGrid("Fmask", 2, 2, 0, 60, []float64{0, 2, 0, 0}),
		"https://host/HLS.L30.T15RYN.2024180T163901.v2.0.B04.tif":   mkGrid("B04", 2, 2, 0, 60, []float64{1000, 2000, 3000, 4000}),
		"https://host/HLS.L30.T15RYP.2024196T163905.v2.0.Fmask.tif": mkGrid("Fmask", 2, 2, 60, 60, []float64{0, 0, 0, 0}),
		"https://host/HLS.L30.T15RYP.2024196T163905.v2.0.B04.tif":   mkGrid("B04", 2, 2, 60, 60, []float64{-9999, 5000, 6000, 7000}),
	}}

	store := cache.NewStore(t.TempDir())
	pipeline := NewPipeline(resolver, NewCompositor(loader), store, "watershed")

	stack, err := pipeline.Run(context.Background(), granules)
	require.NoError(t, err)

	// One spectral band out, covering the union of both tiles.
	require.Equal(t, []int{4}, stack.BandNumbers())
	g := stack.Layer(4).Grid
	require.Equal(t, 4, g.Width)
	require.Equal(t, 2, g.Height)
	assert.Equal(t, [6]float64{0, 30, 0, 60, 0, -30}, g.Transform)

	// West half from the first date, east half from the second.
	assert.InDelta(t, 0.1, g.At(0, 0), 1e-12)
	assert.InDelta(t, 0.3, g.At(1, 0), 1e-12)
	assert.InDelta(t, 0.4, g.At(1, 1), 1e-12)
	assert.InDelta(t, 0.5, g.At(0, 3), 1e-12)
	assert.InDelta(t, 0.6, g.At(1, 2), 1e-12)
	assert.InDelta(t, 0.7, g.At(1, 3), 1e-12)

	// The cloudy pixel and the swept sentinel stay missing: no other
	// date covers them.
	assert.True(t, math.IsNaN(g.At(0, 1)))
	assert.True(t, math.IsNaN(g.At(0, 2)))

	// Nothing non-positive or cloud-contaminated leaks through.
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			assert.Positive(t, v)
			assert.Less(t, v, 1.0)
		}
	}

	// The sample table drops exactly the two missing cells.
	assert.Len(t, stack.Samples(), 6)
}
