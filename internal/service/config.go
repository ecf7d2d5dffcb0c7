package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/osmwatch/changepulse/internal/api"
	"github.com/osmwatch/changepulse/internal/archive"
	"github.com/osmwatch/changepulse/internal/export"
	"github.com/osmwatch/changepulse/internal/feed"
	"github.com/osmwatch/changepulse/internal/ingest"
	"github.com/osmwatch/changepulse/internal/rate"
	"github.com/osmwatch/changepulse/internal/store"
)

// Config is the top-level configuration for the changepulse service.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Feed configures the OSM changeset feed client.
	Feed feed.Config `yaml:"feed"`

	// Store configures the SQLite stats store.
	Store store.Config `yaml:"store"`

	// Ingest configures the polling loop.
	Ingest ingest.Config `yaml:"ingest"`

	// Rate configures the edits-per-minute estimator.
	Rate rate.Config `yaml:"rate"`

	// Archive configures the optional raw changeset sinks.
	Archive archive.Config `yaml:"archive"`

	// API configures the read-side HTTP server.
	API api.Config `yaml:"api"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Store: store.Config{
			Path: "changepulse.db",
		},
		Ingest: ingest.DefaultConfig(),
		Rate:   rate.DefaultConfig(),
		API: api.Config{
			Addr: ":8080",
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and
// consistency.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	return nil
}

// ApplyDefaults applies package-level defaults to unset fields.
func (c *Config) ApplyDefaults() {
	c.Feed.ApplyDefaults()
	c.Ingest.ApplyDefaults()
	c.Rate.ApplyDefaults()
	c.Archive.ApplyDefaults()
}
