package cmr

import (
	"fmt"
	"strings"
	"time"
)

// UMMSearchResponse represents a CMR UMM-G search response.
type UMMSearchResponse struct {
	Hits  int             `json:"hits"`
	Took  int             `json:"took"`
	Items []UMMResultItem `json:"items"`
}

// UMMResultItem wraps a UMM granule with catalog metadata.
type UMMResultItem struct {
	Meta UMMMeta    `json:"meta"`
	UMM  UMMGranule `json:"umm"`
}

// UMMMeta contains metadata about a CMR result item.
type UMMMeta struct {
	ConceptID    string    `json:"concept-id"`
	NativeID     string    `json:"native-id"`
	ProviderID   string    `json:"provider-id"`
	RevisionDate time.Time `json:"revision-date"`
}

// UMMGranule represents a UMM-G (Unified Metadata Model for Granules)
// record, trimmed to the fields the compositing pipeline consumes.
type UMMGranule struct {
	GranuleUR           string              `json:"GranuleUR"`
	CollectionReference CollectionReference `json:"CollectionReference"`
	RelatedUrls         []RelatedURL        `json:"RelatedUrls,omitempty"`
	TemporalExtent      *TemporalExtent     `json:"TemporalExtent,omitempty"`
	SpatialExtent       *SpatialExtent      `json:"SpatialExtent,omitempty"`
	CloudCover          *float64            `json:"CloudCover,omitempty"`
}

// CollectionReference identifies the parent collection.
type CollectionReference struct {
	ShortName string `json:"ShortName"`
	Version   string `json:"Version"`
}

// RelatedURL represents a URL related to the granule. HLS granules carry
// one "GET DATA" URL per band file plus browse and metadata sidecars.
type RelatedURL struct {
	URL         string `json:"URL"`
	Type        string `json:"Type"`
	Subtype     string `json:"Subtype,omitempty"`
	Description string `json:"Description,omitempty"`
	MimeType    string `json:"MimeType,omitempty"`
}

// TemporalExtent contains temporal information.
type TemporalExtent struct {
	RangeDateTime  *RangeDateTime `json:"RangeDateTime,omitempty"`
	SingleDateTime string         `json:"SingleDateTime,omitempty"`
}

// RangeDateTime represents a time range.
type RangeDateTime struct {
	BeginningDateTime string `json:"BeginningDateTime"`
	EndingDateTime    string `json:"EndingDateTime"`
}

// SpatialExtent contains spatial information.
type SpatialExtent struct {
	HorizontalSpatialDomain *HorizontalSpatialDomain `json:"HorizontalSpatialDomain,omitempty"`
}

// HorizontalSpatialDomain contains horizontal spatial domain information.
type HorizontalSpatialDomain struct {
	Geometry *Geometry `json:"Geometry,omitempty"`
}

// Geometry contains geometry information.
type Geometry struct {
	GPolygons []GPolygon `json:"GPolygons,omitempty"`
}

// GPolygon represents a polygon geometry.
type GPolygon struct {
	Boundary Boundary `json:"Boundary"`
}

// Boundary contains boundary points.
type Boundary struct {
	Points []Point `json:"Points"`
}

// Point represents a geographic point.
type Point struct {
	Longitude float64 `json:"Longitude"`
	Latitude  float64 `json:"Latitude"`
}

// GranuleMetadata is the typed record the pipeline extracts from a raw
// UMM granule: identity, acquisition start, and footprint ring. Lookup
// failures on the nested UMM structure surface as ErrMetadata instead of
// silently producing zero values.
type GranuleMetadata struct {
	ID        string
	StartTime time.Time
	// FootprintRing is the first boundary ring of the granule footprint
	// as [lon, lat] points in geographic coordinates.
	FootprintRing [][]float64
}

// Metadata extracts the typed metadata record from a granule. It returns
// ErrMetadata when the temporal or spatial fields the pipeline depends
// on are absent or unparsable.
func (g *UMMGranule) Metadata() (*GranuleMetadata, error) {
	if g.GranuleUR == "" {
		return nil, fmt.Errorf("%w: granule has no GranuleUR", ErrMetadata)
	}

	if g.TemporalExtent == nil || g.TemporalExtent.RangeDateTime == nil ||
		g.TemporalExtent.RangeDateTime.BeginningDateTime == "" {
		return nil, fmt.Errorf("%w: granule %s has no beginning datetime", ErrMetadata, g.GranuleUR)
	}
	start, err := parseTime(g.TemporalExtent.RangeDateTime.BeginningDateTime)
	if err != nil {
		return nil, fmt.Errorf("%w: granule %s: %v", ErrMetadata, g.GranuleUR, err)
	}

	ring, err := g.footprintRing()
	if err != nil {
		return nil, err
	}

	return &GranuleMetadata{
		ID:            g.GranuleUR,
		StartTime:     start,
		FootprintRing: ring,
	}, nil
}

// footprintRing returns the first polygon boundary ring of the granule.
func (g *UMMGranule) footprintRing() ([][]float64, error) {
	se := g.SpatialExtent
	if se == nil || se.HorizontalSpatialDomain == nil ||
		se.HorizontalSpatialDomain.Geometry == nil ||
		len(se.HorizontalSpatialDomain.Geometry.GPolygons) == 0 {
		return nil, fmt.Errorf("%w: granule %s has no footprint polygon", ErrMetadata, g.GranuleUR)
	}

	points := se.HorizontalSpatialDomain.Geometry.GPolygons[0].Boundary.Points
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: granule %s footprint has no points", ErrMetadata, g.GranuleUR)
	}

	ring := make([][]float64, len(points))
	for i, pt := range points {
		ring[i] = []float64{pt.Longitude, pt.Latitude}
	}
	return ring, nil
}

// DataLinks returns the granule's downloadable raster file URLs: every
// "GET DATA" related URL fetchable over HTTPS. S3-scheme duplicates of
// the same objects are skipped; the raster loader reads over HTTPS.
func (g *UMMGranule) DataLinks() []string {
	var links []string
	for _, u := range g.RelatedUrls {
		if u.Type != "GET DATA" {
			continue
		}
		if !strings.HasPrefix(u.URL, "https://") {
			continue
		}
		links = append(links, u.URL)
	}
	return links
}

// parseTime parses a CMR timestamp string.
func parseTime(s string) (time.Time, error) {
	// CMR uses ISO 8601 format
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.000Z",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", s)
}
