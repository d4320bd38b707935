package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CMR.BaseURL != "https://cmr.earthdata.nasa.gov/search" {
		t.Errorf("CMR base URL = %s", cfg.CMR.BaseURL)
	}
	if cfg.CMR.Provider != "LPCLOUD" {
		t.Errorf("CMR provider = %s", cfg.CMR.Provider)
	}
	if cfg.Search.ShortName != "HLSL30" {
		t.Errorf("search short name = %s", cfg.Search.ShortName)
	}
	if cfg.Search.PageSize != 250 {
		t.Errorf("search page size = %d", cfg.Search.PageSize)
	}
	if cfg.GDAL.HTTPMaxRetry != 3 {
		t.Errorf("HTTP max retry = %d", cfg.GDAL.HTTPMaxRetry)
	}
	if cfg.GDAL.HTTPRetryDelay != 5*time.Second {
		t.Errorf("HTTP retry delay = %s", cfg.GDAL.HTTPRetryDelay)
	}
	if len(cfg.Mask.Bits) != 3 || cfg.Mask.Bits[0] != 1 || cfg.Mask.Bits[1] != 2 || cfg.Mask.Bits[2] != 3 {
		t.Errorf("mask bits = %v", cfg.Mask.Bits)
	}
	if cfg.Cache.Dir != ".cache" {
		t.Errorf("cache dir = %s", cfg.Cache.Dir)
	}
	if cfg.Cache.Override {
		t.Error("cache override should default to false")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("CMR_EARTHDATA_TOKEN", "secret")
	t.Setenv("SEARCH_SHORT_NAME", "HLSS30")
	t.Setenv("SEARCH_TEMPORAL", "2024-06-01T00:00:00Z,2024-09-01T00:00:00Z")
	t.Setenv("MASK_BITS", "0,1,3")
	t.Setenv("CACHE_RUN_NAME", "delta")
	t.Setenv("CACHE_OVERRIDE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CMR.Token != "secret" {
		t.Errorf("token = %s", cfg.CMR.Token)
	}
	if cfg.Search.ShortName != "HLSS30" {
		t.Errorf("short name = %s", cfg.Search.ShortName)
	}
	if !strings.HasPrefix(cfg.Search.Temporal, "2024-06-01") {
		t.Errorf("temporal = %s", cfg.Search.Temporal)
	}
	if len(cfg.Mask.Bits) != 3 || cfg.Mask.Bits[0] != 0 {
		t.Errorf("mask bits = %v", cfg.Mask.Bits)
	}
	if cfg.Cache.RunName != "delta" {
		t.Errorf("run name = %s", cfg.Cache.RunName)
	}
	if !cfg.Cache.Override {
		t.Error("cache override should be true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "empty CMR base URL",
			mutate:  func(c *Config) { c.CMR.BaseURL = "" },
			wantErr: "CMR base URL",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.CMR.Timeout = 0 },
			wantErr: "timeout",
		},
		{
			name:    "empty short name",
			mutate:  func(c *Config) { c.Search.ShortName = "" },
			wantErr: "short name",
		},
		{
			name:    "page size too large",
			mutate:  func(c *Config) { c.Search.PageSize = 5000 },
			wantErr: "page size",
		},
		{
			name:    "mask bit out of range",
			mutate:  func(c *Config) { c.Mask.Bits = []int{8} },
			wantErr: "mask bit",
		},
		{
			name:    "empty cache dir",
			mutate:  func(c *Config) { c.Cache.Dir = "" },
			wantErr: "cache directory",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
