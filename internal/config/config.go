// Package config provides configuration management for the HLS
// compositing pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from
// environment variables.
type Config struct {
	CMR     CMRConfig     `envPrefix:"CMR_"`
	Search  SearchConfig  `envPrefix:"SEARCH_"`
	GDAL    GDALConfig    `envPrefix:"GDAL_"`
	Mask    MaskConfig    `envPrefix:"MASK_"`
	Cache   CacheConfig   `envPrefix:"CACHE_"`
	Logging LoggingConfig `envPrefix:"LOG_"`
}

// CMRConfig contains NASA CMR catalog client configuration.
type CMRConfig struct {
	BaseURL  string        `env:"BASE_URL" envDefault:"https://cmr.earthdata.nasa.gov/search"`
	Provider string        `env:"PROVIDER" envDefault:"LPCLOUD"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`

	// Token is an Earthdata Login bearer token, required for the hosted
	// HLS rasters.
	Token string `env:"EARTHDATA_TOKEN,unset"`
}

// SearchConfig scopes the granule search.
type SearchConfig struct {
	// ShortName is the HLS collection to search, e.g. "HLSL30" for the
	// Landsat product.
	ShortName string `env:"SHORT_NAME" envDefault:"HLSL30"`

	// BoundaryPath points to the GeoJSON study-area boundary.
	BoundaryPath string `env:"BOUNDARY_PATH"`

	// Temporal is the CMR temporal range, "start,end" in RFC 3339.
	Temporal string `env:"TEMPORAL"`

	// PageSize caps results per catalog page.
	PageSize int `env:"PAGE_SIZE" envDefault:"250"`
}

// GDALConfig contains raster access configuration.
type GDALConfig struct {
	HTTPMaxRetry   int           `env:"HTTP_MAX_RETRY" envDefault:"3"`
	HTTPRetryDelay time.Duration `env:"HTTP_RETRY_DELAY" envDefault:"5s"`
}

// MaskConfig controls quality-mask decoding.
type MaskConfig struct {
	// Bits are the Fmask bit positions that disqualify a pixel. The
	// default rejects cloud, adjacent-to-cloud, and cloud-shadow pixels.
	Bits []int `env:"BITS" envDefault:"1,2,3"`
}

// CacheConfig contains the durable result cache configuration.
type CacheConfig struct {
	Dir string `env:"DIR" envDefault:".cache"`

	// RunName discriminates this study's cache entries.
	RunName string `env:"RUN_NAME" envDefault:"default"`

	// Override forces recomputation of every cached stage.
	Override bool `env:"OVERRIDE" envDefault:"false"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.CMR.BaseURL == "" {
		return fmt.Errorf("CMR base URL is required")
	}

	if c.CMR.Timeout <= 0 {
		return fmt.Errorf("CMR timeout must be positive, got %s", c.CMR.Timeout)
	}

	if c.Search.ShortName == "" {
		return fmt.Errorf("search short name is required")
	}

	if c.Search.PageSize < 1 || c.Search.PageSize > 2000 {
		return fmt.Errorf("search page size must be between 1 and 2000, got %d", c.Search.PageSize)
	}

	if c.GDAL.HTTPMaxRetry < 0 {
		return fmt.Errorf("HTTP max retry must not be negative, got %d", c.GDAL.HTTPMaxRetry)
	}

	for _, bit := range c.Mask.Bits {
		if bit < 0 || bit > 7 {
			return fmt.Errorf("mask bit must be between 0 and 7, got %d", bit)
		}
	}

	if c.Cache.Dir == "" {
		return fmt.Errorf("cache directory is required")
	}

	if c.Cache.RunName == "" {
		return fmt.Errorf("cache run name is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}
