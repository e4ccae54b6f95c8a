package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Dump.BackslashEscapes)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
dump:
  path: /data/legacy.sql
  backslash_escapes: true
destination:
  driver: mysql
  host: db.internal
  port: 3306
  database: target
pipeline:
  batch_size: 40
  entities: [users, addresses]
geocoding:
  enabled: true
  batch_delay: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("PIPELINE_BATCH_SIZE", "10")
	t.Setenv("OUTPUT_DIR", "/tmp/out")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/legacy.sql", cfg.Dump.Path)
	assert.True(t, cfg.Dump.BackslashEscapes)
	assert.Equal(t, DriverMySQL, cfg.Destination.Driver)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, []string{"users", "addresses"}, cfg.Pipeline.Entities)
	assert.Equal(t, 2*time.Second, cfg.Geocoding.BatchDelay)
	assert.Equal(t, "/tmp/out/checkpoints", cfg.CheckpointPath())
	assert.Equal(t, "/tmp/out/mappings", cfg.MappingPath())
}

func TestLoadRejectsBadEnvInteger(t *testing.T) {
	t.Setenv("DEST_PORT", "not-a-port")
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing dump", func(c *Config) { c.Dump.Path = "" }, "dump path"},
		{"unknown driver", func(c *Config) { c.Destination.Driver = "oracle" }, "unknown destination driver"},
		{"bad port", func(c *Config) { c.Destination.Port = 0 }, "port"},
		{"zero batch", func(c *Config) { c.Pipeline.BatchSize = 0 }, "batch size"},
		{"no output", func(c *Config) { c.Output.Directory = "" }, "output directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMemoryDriverNeedsNoHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Destination.Driver = DriverMemory
	cfg.Destination.Host = ""
	require.NoError(t, cfg.Validate())
}

func TestConnectionString(t *testing.T) {
	d := DefaultConfig().Destination
	d.Password = "p w"
	dsn := d.ConnectionString()
	assert.True(t, strings.Contains(dsn, "password='p w'"), dsn)
	assert.Contains(t, dsn, "sslmode=disable")

	d.Driver = DriverMySQL
	d.Port = 3306
	dsn = d.ConnectionString()
	assert.Contains(t, dsn, "@tcp(localhost:3306)/app")
	assert.Contains(t, dsn, "parseTime=true")
}
