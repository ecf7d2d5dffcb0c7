package feed

import "time"

// Config holds configuration for the changeset feed client.
type Config struct {
	// Endpoint is the base URL of the OSM API.
	// Defaults to https://www.openstreetmap.org.
	Endpoint string `yaml:"endpoint"`

	// Timeout for HTTP requests to the API. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Limit is the number of changesets requested per poll.
	// Defaults to 25 (the upstream maximum is 100).
	Limit int `yaml:"limit"`
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://www.openstreetmap.org"
	}

	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	if c.Limit <= 0 || c.Limit > 100 {
		c.Limit = 25
	}
}
