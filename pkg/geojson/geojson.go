// Package geojson provides the boundary geometry types consumed by the
// compositing pipeline: GeoJSON polygon parsing, bounding-box computation,
// and WKT conversion of footprints for inspection in GIS tools.
package geojson

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Geometry represents a GeoJSON geometry object.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Polygon returns the coordinates as a Polygon [][][lon, lat].
// Returns an error if the geometry is not a Polygon.
func (g *Geometry) Polygon() ([][][]float64, error) {
	if g.Type != "Polygon" {
		return nil, fmt.Errorf("geometry is not a Polygon, got %s", g.Type)
	}
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Polygon coordinates: %w", err)
	}
	return coords, nil
}

// MultiPolygon returns the coordinates as a MultiPolygon [][][][lon, lat].
// Returns an error if the geometry is not a MultiPolygon.
func (g *Geometry) MultiPolygon() ([][][][]float64, error) {
	if g.Type != "MultiPolygon" {
		return nil, fmt.Errorf("geometry is not a MultiPolygon, got %s", g.Type)
	}
	var coords [][][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MultiPolygon coordinates: %w", err)
	}
	return coords, nil
}

// NewPolygon creates a Polygon geometry from a single outer ring of
// [lon, lat] points. The ring is closed if it is not already.
func NewPolygon(ring [][]float64) (*Geometry, error) {
	if len(ring) < 3 {
		return nil, fmt.Errorf("polygon ring needs at least 3 points, got %d", len(ring))
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		ring = append(ring, first)
	}
	coords, err := json.Marshal([][][]float64{ring})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal polygon coordinates: %w", err)
	}
	return &Geometry{Type: "Polygon", Coordinates: coords}, nil
}

// BBox computes the bounding box of the geometry.
// Returns [west, south, east, north].
func (g *Geometry) BBox() ([]float64, error) {
	if g == nil {
		return nil, fmt.Errorf("geometry is nil")
	}

	minLon, minLat := math.Inf(1), math.Inf(1)
	maxLon, maxLat := math.Inf(-1), math.Inf(-1)

	extend := func(point []float64) {
		if len(point) < 2 {
			return
		}
		minLon = math.Min(minLon, point[0])
		maxLon = math.Max(maxLon, point[0])
		minLat = math.Min(minLat, point[1])
		maxLat = math.Max(maxLat, point[1])
	}

	switch g.Type {
	case "Polygon":
		coords, err := g.Polygon()
		if err != nil {
			return nil, err
		}
		for _, ring := range coords {
			for _, point := range ring {
				extend(point)
			}
		}

	case "MultiPolygon":
		coords, err := g.MultiPolygon()
		if err != nil {
			return nil, err
		}
		for _, polygon := range coords {
			for _, ring := range polygon {
				for _, point := range ring {
					extend(point)
				}
			}
		}

	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.Type)
	}

	if math.IsInf(minLon, 0) || math.IsInf(minLat, 0) {
		return nil, fmt.Errorf("failed to compute bounding box: no valid coordinates found")
	}

	return []float64{minLon, minLat, maxLon, maxLat}, nil
}

// ToWKT converts a Polygon or MultiPolygon geometry to WKT format.
func ToWKT(g *Geometry) (string, error) {
	if g == nil {
		return "", fmt.Errorf("geometry is nil")
	}

	switch g.Type {
	case "Polygon":
		coords, err := g.Polygon()
		if err != nil {
			return "", err
		}
		return "POLYGON" + ringsToWKT(coords), nil

	case "MultiPolygon":
		coords, err := g.MultiPolygon()
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(coords))
		for _, polygon := range coords {
			parts = append(parts, ringsToWKT(polygon))
		}
		return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")", nil

	default:
		return "", fmt.Errorf("unsupported geometry type for WKT conversion: %s", g.Type)
	}
}

func ringsToWKT(rings [][][]float64) string {
	ringParts := make([]string, 0, len(rings))
	for _, ring := range rings {
		pointParts := make([]string, 0, len(ring))
		for _, point := range ring {
			if len(point) < 2 {
				continue
			}
			pointParts = append(pointParts, formatFloat(point[0])+" "+formatFloat(point[1]))
		}
		ringParts = append(ringParts, "("+strings.Join(pointParts, ",")+")")
	}
	return "(" + strings.Join(ringParts, ",") + ")"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Boundary is a dissolved study-area boundary: a single geometry in
// geographic coordinates (EPSG:4326) plus its bounding box.
type Boundary struct {
	Geometry *Geometry
	// BBox is [west, south, east, north] in geographic coordinates.
	BBox []float64
}

// IntersectsBBox reports whether the geometry's bounding box overlaps
// the boundary's bounding box.
func (b *Boundary) IntersectsBBox(g *Geometry) (bool, error) {
	gb, err := g.BBox()
	if err != nil {
		return false, err
	}
	return gb[0] <= b.BBox[2] && gb[2] >= b.BBox[0] &&
		gb[1] <= b.BBox[3] && gb[3] >= b.BBox[1], nil
}

// feature is the subset of a GeoJSON Feature the loader needs.
type feature struct {
	Type     string    `json:"type"`
	Geometry *Geometry `json:"geometry"`
}

// featureCollection is the subset of a GeoJSON FeatureCollection the
// loader needs.
type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// LoadBoundary reads a boundary from a GeoJSON file. The file may contain
// a FeatureCollection, a single Feature, or a bare Geometry. Multiple
// polygon features are dissolved into one MultiPolygon.
func LoadBoundary(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundary file: %w", err)
	}
	return ParseBoundary(data)
}

// ParseBoundary parses a boundary from raw GeoJSON bytes.
func ParseBoundary(data []byte) (*Boundary, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse boundary GeoJSON: %w", err)
	}

	var geoms []*Geometry
	switch probe.Type {
	case "FeatureCollection":
		var fc featureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse FeatureCollection: %w", err)
		}
		for _, f := range fc.Features {
			if f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}

	case "Feature":
		var f feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse Feature: %w", err)
		}
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}

	case "Polygon", "MultiPolygon":
		var g Geometry
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("failed to parse geometry: %w", err)
		}
		geoms = append(geoms, &g)

	default:
		return nil, fmt.Errorf("unsupported boundary GeoJSON type: %q", probe.Type)
	}

	if len(geoms) == 0 {
		return nil, fmt.Errorf("boundary contains no geometries")
	}

	dissolved, err := dissolve(geoms)
	if err != nil {
		return nil, err
	}

	bbox, err := dissolved.BBox()
	if err != nil {
		return nil, fmt.Errorf("failed to compute boundary bounding box: %w", err)
	}

	return &Boundary{Geometry: dissolved, BBox: bbox}, nil
}

// dissolve collapses one or more polygonal geometries into a single
// geometry. A single input is returned as-is; multiple inputs are
// collected into a MultiPolygon. Overlap removal is not attempted: the
// pipeline only ever crops to the boundary's bounding box.
func dissolve(geoms []*Geometry) (*Geometry, error) {
	if len(geoms) == 1 {
		return geoms[0], nil
	}

	var polygons [][][][]float64
	for _, g := range geoms {
		switch g.Type {
		case "Polygon":
			coords, err := g.Polygon()
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, coords)
		case "MultiPolygon":
			coords, err := g.MultiPolygon()
			if err != nil {
				return nil, err
			}
			polygons = append(polygons, coords...)
		default:
			return nil, fmt.Errorf("cannot dissolve geometry type %s", g.Type)
		}
	}

	coords, err := json.Marshal(polygons)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dissolved coordinates: %w", err)
	}
	return &Geometry{Type: "MultiPolygon", Coordinates: coords}, nil
}
