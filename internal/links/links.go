// Package links turns raw granule search results into a flat link table
// with one row per (timestamp, tile, band) raster file. Sidecar files
// whose names do not follow the HLS band-file grammar are skipped.
package links

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/earthlab-education/hls-composite/internal/cmr"
	"github.com/earthlab-education/hls-composite/pkg/geojson"
)

// filenamePattern matches HLS band-file names such as
// "HLS.S30.T15RYN.2024180T163901.v2.0.B04.tif", capturing the tile
// identifier and band code. Non-raster sidecars (.jpg browse images,
// .xml metadata) intentionally fall through.
var filenamePattern = regexp.MustCompile(
	`\.(?P<tile_id>\w+)\.\d+T\d+\.v\d\.\d\.(?P<band>[A-Za-z0-9]+)\.tif`)

// Row is one link-table entry: a single band raster file of one granule.
type Row struct {
	// Time is the granule's acquisition start timestamp.
	Time time.Time

	// TileID is the HLS tiling-grid cell, e.g. "T15RYN".
	TileID string

	// Band is the band code embedded in the file name, e.g. "B04" or
	// "Fmask".
	Band string

	// Href is the openable location of the raster file.
	Href string

	// Footprint is the granule footprint ring as [lon, lat] points.
	Footprint [][]float64
}

// Table is the flat collection of link rows for a search result set,
// densely indexed 0..N-1 in resolution order.
type Table struct {
	Rows []Row
}

// FileResolver resolves one granule into its openable file references.
// Implemented by the CMR client with one catalog round trip per granule.
type FileResolver interface {
	ResolveFiles(ctx context.Context, granuleUR string) ([]string, error)
}

// MatchFilename extracts the tile identifier and band code from a band
// file name. ok is false for names that do not follow the grammar.
func MatchFilename(name string) (tileID, band string, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[filenamePattern.SubexpIndex("tile_id")], m[filenamePattern.SubexpIndex("band")], true
}

// Resolver builds link tables from granule search results.
type Resolver struct {
	files    FileResolver
	boundary *geojson.Boundary
	logger   *slog.Logger
}

// NewResolver creates a resolver backed by the given file resolver.
func NewResolver(files FileResolver) *Resolver {
	return &Resolver{files: files, logger: slog.Default()}
}

// WithLogger sets a custom logger for the resolver.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// WithBoundary drops granules whose footprint does not overlap the
// boundary's bounding box. The catalog's spatial search is a bbox
// filter too, but a footprint can clear it while missing a refined
// study area entirely.
func (r *Resolver) WithBoundary(boundary *geojson.Boundary) *Resolver {
	r.boundary = boundary
	return r
}

// Resolve emits one row per matched band file across all granules, in
// granule order. A granule with malformed metadata aborts resolution;
// file names that do not match the grammar are skipped silently.
func (r *Resolver) Resolve(ctx context.Context, granules []cmr.UMMGranule) (*Table, error) {
	table := &Table{}

	for i := range granules {
		meta, err := granules[i].Metadata()
		if err != nil {
			return nil, err
		}

		if r.boundary != nil {
			covered, err := r.covers(meta)
			if err != nil {
				return nil, err
			}
			if !covered {
				r.logger.DebugContext(ctx, "granule footprint outside boundary, skipping",
					slog.String("granule_ur", meta.ID),
				)
				continue
			}
		}

		files, err := r.files.ResolveFiles(ctx, meta.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve files for granule %s: %w", meta.ID, err)
		}

		matched := 0
		for _, href := range files {
			tileID, band, ok := MatchFilename(href)
			if !ok {
				continue
			}
			table.Rows = append(table.Rows, Row{
				Time:      meta.StartTime,
				TileID:    tileID,
				Band:      band,
				Href:      href,
				Footprint: meta.FootprintRing,
			})
			matched++
		}

		r.logger.DebugContext(ctx, "resolved granule links",
			slog.String("granule_ur", meta.ID),
			slog.Int("files", len(files)),
			slog.Int("matched", matched),
		)
	}

	return table, nil
}

// covers reports whether a granule's footprint polygon overlaps the
// configured boundary.
func (r *Resolver) covers(meta *cmr.GranuleMetadata) (bool, error) {
	footprint, err := geojson.NewPolygon(meta.FootprintRing)
	if err != nil {
		return false, fmt.Errorf("invalid footprint for granule %s: %w", meta.ID, err)
	}
	return r.boundary.IntersectsBBox(footprint)
}

// GroupKey identifies one granule worth of rows: a single overpass of a
// single tile.
type GroupKey struct {
	Time   time.Time
	TileID string
}

// Group is the rows of one (timestamp, tile) granule.
type Group struct {
	Key  GroupKey
	Rows []Row
}

// GroupByGranule partitions the table into (timestamp, tile) groups,
// ordered by timestamp then tile identifier so processing order is
// deterministic across runs.
func (t *Table) GroupByGranule() []Group {
	index := make(map[GroupKey]int)
	var groups []Group
	for _, row := range t.Rows {
		key := GroupKey{Time: row.Time, TileID: row.TileID}
		gi, seen := index[key]
		if !seen {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, Group{Key: key})
		}
		groups[gi].Rows = append(groups[gi].Rows, row)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Key, groups[j].Key
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.TileID < b.TileID
	})
	return groups
}

// FindBand returns the first row in the group with the given band code,
// or false if the group has none.
func (g *Group) FindBand(band string) (Row, bool) {
	for _, row := range g.Rows {
		if row.Band == band {
			return row, true
		}
	}
	return Row{}, false
}
