// Package cmr provides a client for NASA's Common Metadata Repository
// (CMR) API, used to discover HLS granules over a study area.
package cmr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the default CMR API base URL.
	DefaultBaseURL = "https://cmr.earthdata.nasa.gov/search"

	// DefaultProvider is the default CMR provider for cloud-hosted HLS data.
	DefaultProvider = "LPCLOUD"

	// DefaultPageSize is the default number of results per page.
	DefaultPageSize = 250

	// MaxPageSize is the maximum page size supported by CMR.
	MaxPageSize = 2000

	// CMRSearchAfterHeader is the header used for cursor-based pagination.
	CMRSearchAfterHeader = "CMR-Search-After"
)

// Client handles communication with the CMR API.
type Client struct {
	baseURL    string
	provider   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new CMR API client.
func NewClient(baseURL, provider string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if provider == "" {
		provider = DefaultProvider
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		provider: provider,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithToken sets an Earthdata bearer token sent with every request.
// Token acquisition is the calling environment's concern.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// SearchResult contains one page of a CMR granule search.
type SearchResult struct {
	Granules    []UMMGranule
	Hits        int
	SearchAfter string // Cursor for next page
	TookMs      int
}

// SearchParams represents parameters for CMR granule searches.
type SearchParams struct {
	// ShortName is the collection short name, e.g. "HLSL30".
	ShortName string

	// BoundingBox is "west,south,east,north" in geographic coordinates.
	BoundingBox string

	// Temporal is "start,end" in ISO 8601 format.
	Temporal string

	// CloudHosted restricts results to cloud-hosted collections.
	CloudHosted bool

	// Pagination
	PageSize    int
	SearchAfter string // CMR-Search-After cursor
}

// ToURLValues converts SearchParams to URL query parameters.
func (p *SearchParams) ToURLValues() url.Values {
	values := url.Values{}

	if p.ShortName != "" {
		values.Set("short_name", p.ShortName)
	}
	if p.BoundingBox != "" {
		values.Set("bounding_box", p.BoundingBox)
	}
	if p.Temporal != "" {
		values.Set("temporal", p.Temporal)
	}
	if p.CloudHosted {
		values.Set("cloud_hosted", "true")
	}

	if p.PageSize > 0 {
		values.Set("page_size", fmt.Sprintf("%d", p.PageSize))
	} else {
		values.Set("page_size", fmt.Sprintf("%d", DefaultPageSize))
	}

	// Stable ordering across runs: oldest overpass first.
	values.Set("sort_key", "start_date")

	return values
}

// Search performs a single-page granule search against CMR.
func (c *Client) Search(ctx context.Context, params *SearchParams) (*SearchResult, error) {
	searchURL := c.baseURL + "/granules.umm_json"

	queryParams := params.ToURLValues()
	queryParams.Set("provider", c.provider)

	c.logger.DebugContext(ctx, "executing CMR search",
		slog.String("url", searchURL),
		slog.String("params", queryParams.Encode()),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL+"?"+queryParams.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.nasa.cmr.umm_results+json")
	req.Header.Set("User-Agent", "hls-composite/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// Add CMR-Search-After header for pagination
	if params.SearchAfter != "" {
		req.Header.Set(CMRSearchAfterHeader, params.SearchAfter)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "CMR API request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("CMR API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.ErrorContext(ctx, "CMR API returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return nil, fmt.Errorf("CMR API returned status %d: %s", resp.StatusCode, string(body))
	}

	var cmrResp UMMSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmrResp); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode CMR response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to decode CMR response: %w", err)
	}

	granules := make([]UMMGranule, 0, len(cmrResp.Items))
	for _, item := range cmrResp.Items {
		granules = append(granules, item.UMM)
	}

	searchAfter := resp.Header.Get(CMRSearchAfterHeader)

	c.logger.DebugContext(ctx, "CMR search completed",
		slog.Int("hits", cmrResp.Hits),
		slog.Int("returned", len(granules)),
		slog.Bool("has_next", searchAfter != ""),
	)

	return &SearchResult{
		Granules:    granules,
		Hits:        cmrResp.Hits,
		SearchAfter: searchAfter,
		TookMs:      cmrResp.Took,
	}, nil
}

// SearchAll follows the CMR-Search-After cursor until every matching
// granule has been retrieved, preserving catalog order.
func (c *Client) SearchAll(ctx context.Context, params *SearchParams) ([]UMMGranule, error) {
	page := *params
	var granules []UMMGranule

	for {
		result, err := c.Search(ctx, &page)
		if err != nil {
			return nil, err
		}
		granules = append(granules, result.Granules...)

		if result.SearchAfter == "" || len(result.Granules) == 0 {
			break
		}
		page.SearchAfter = result.SearchAfter
	}

	c.logger.InfoContext(ctx, "granule search complete",
		slog.Int("granules", len(granules)),
	)
	return granules, nil
}

// GetGranule retrieves a single granule by its granule UR (unique reference).
func (c *Client) GetGranule(ctx context.Context, granuleUR string) (*UMMGranule, error) {
	c.logger.DebugContext(ctx, "fetching granule",
		slog.String("granule_ur", granuleUR),
	)

	searchURL := c.baseURL + "/granules.umm_json"
	queryParams := url.Values{}
	queryParams.Set("granule_ur", granuleUR)
	queryParams.Set("provider", c.provider)
	queryParams.Set("page_size", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL+"?"+queryParams.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.nasa.cmr.umm_results+json")
	req.Header.Set("User-Agent", "hls-composite/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("CMR API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("CMR API returned status %d: %s", resp.StatusCode, string(body))
	}

	var cmrResp UMMSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmrResp); err != nil {
		return nil, fmt.Errorf("failed to decode CMR response: %w", err)
	}

	if len(cmrResp.Items) == 0 {
		return nil, fmt.Errorf("granule not found: %s", granuleUR)
	}

	return &cmrResp.Items[0].UMM, nil
}

// ResolveFiles resolves a granule into its downloadable band-file URLs
// with one catalog round trip, re-fetching the granule record so the
// related URLs reflect the provider's current distribution endpoints.
func (c *Client) ResolveFiles(ctx context.Context, granuleUR string) ([]string, error) {
	granule, err := c.GetGranule(ctx, granuleUR)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve granule files: %w", err)
	}
	return granule.DataLinks(), nil
}
