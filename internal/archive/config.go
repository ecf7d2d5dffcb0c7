package archive

import (
	"errors"
	"fmt"
	"time"
)

// Config configures the archive sinks.
type Config struct {
	// HTTP streams records to an NDJSON endpoint.
	HTTP HTTPConfig `yaml:"http"`

	// ClickHouse batch-inserts records into a ClickHouse table.
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	// MetaClientName is stamped onto every archived record.
	MetaClientName string `yaml:"meta_client_name"`
}

// Enabled reports whether any sink is configured.
func (c *Config) Enabled() bool {
	return c.HTTP.Enabled || c.ClickHouse.Enabled
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	c.HTTP.ApplyDefaults()
	c.ClickHouse.ApplyDefaults()
}

// HTTPConfig configures the HTTP NDJSON sink.
type HTTPConfig struct {
	// Enabled enables the HTTP sink.
	Enabled bool `yaml:"enabled"`

	// Address is the HTTP endpoint to send records to.
	Address string `yaml:"address"`

	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers"`

	// Compression specifies the payload compression algorithm.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to gzip.
	Compression string `yaml:"compression"`

	// BatchSize is the maximum number of records per batch.
	// Defaults to 256.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout is the maximum duration to wait before sending
	// a partial batch. Defaults to 10s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout is the maximum duration for an export operation.
	// Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize is the maximum number of records to queue.
	// Records are dropped if the queue is full. Defaults to 8192.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of concurrent export workers.
	// Defaults to 1.
	Workers int `yaml:"workers"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	keepAlive := true

	return HTTPConfig{
		Compression:   CompressionGzip,
		BatchSize:     256,
		BatchTimeout:  10 * time.Second,
		ExportTimeout: 30 * time.Second,
		MaxQueueSize:  8192,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// Validate validates the configuration.
func (c *HTTPConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("address is required when enabled")
	}

	if c.BatchSize <= 0 {
		return errors.New("batch_size must be greater than 0")
	}

	if c.MaxQueueSize <= 0 {
		return errors.New("max_queue_size must be greater than 0")
	}

	if c.BatchSize > c.MaxQueueSize {
		return errors.New("batch_size cannot be greater than max_queue_size")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}

	switch c.Compression {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
	default:
		return errors.New("invalid compression type: " + c.Compression)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *HTTPConfig) ApplyDefaults() {
	defaults := DefaultHTTPConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaults.BatchTimeout
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}

	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *HTTPConfig) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	// Enabled enables the ClickHouse sink.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database"`

	// Table is the target table name. Defaults to "changesets".
	Table string `yaml:"table"`

	// BatchSize is the number of records per batch insert.
	// Defaults to 1000.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time between flushes.
	// Defaults to 10s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`
}

// Validate validates the configuration.
func (c *ClickHouseConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return errors.New("endpoint is required when enabled")
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *ClickHouseConfig) ApplyDefaults() {
	if c.Table == "" {
		c.Table = "changesets"
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
}
