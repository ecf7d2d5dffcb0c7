package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "changepulse.db", cfg.Store.Path)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, 6*time.Second, cfg.Ingest.Interval)
	assert.Equal(t, int64(25), cfg.Ingest.RetainBuckets)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
feed:
  endpoint: "https://api.openstreetmap.example"
  timeout: 5s
  limit: 50
store:
  path: "/var/lib/changepulse/stats.db"
ingest:
  interval: 10s
  retain_buckets: 48
rate:
  window: 120s
  smoothing_alpha: 0.5
archive:
  http:
    enabled: true
    address: "http://vector:9000"
    compression: zstd
api:
  addr: ":8090"
health:
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://api.openstreetmap.example", cfg.Feed.Endpoint)
	assert.Equal(t, 50, cfg.Feed.Limit)
	assert.Equal(t, "/var/lib/changepulse/stats.db", cfg.Store.Path)
	assert.Equal(t, 10*time.Second, cfg.Ingest.Interval)
	assert.Equal(t, int64(48), cfg.Ingest.RetainBuckets)
	assert.Equal(t, 120*time.Second, cfg.Rate.Window)
	assert.InDelta(t, 0.5, cfg.Rate.SmoothingAlpha, 0.0001)
	assert.True(t, cfg.Archive.HTTP.Enabled)
	assert.Equal(t, "zstd", cfg.Archive.HTTP.Compression)
	assert.Equal(t, ":8090", cfg.API.Addr)
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	// Use a tab character at the start which is invalid YAML indentation.
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Archive.HTTP.Enabled = true
	// Enabled without an address is rejected.
	assert.Error(t, cfg.Validate())
}
