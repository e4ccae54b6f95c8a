// Package config provides configuration management for the legacy dump migrator.
// It supports YAML files, environment variable overrides, and provides sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v2"
)

// Supported destination drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Dump        DumpConfig        `yaml:"dump"`        // Legacy dump input
	Destination DestinationConfig `yaml:"destination"` // Target database connection settings
	Pipeline    PipelineConfig    `yaml:"pipeline"`    // Pipeline execution parameters
	Geocoding   GeocodingConfig   `yaml:"geocoding"`   // Address enrichment settings
	Logger      LoggerConfig      `yaml:"logger"`      // Logging configuration
	Output      OutputConfig      `yaml:"output"`      // Output file configuration
	Metrics     MetricsConfig     `yaml:"metrics"`     // Prometheus metrics
}

// DumpConfig points at the legacy SQL dump
type DumpConfig struct {
	Path             string `yaml:"path"`              // Path to the mysqldump file
	BackslashEscapes bool   `yaml:"backslash_escapes"` // Read \ as an escape inside quoted literals
}

// DestinationConfig contains target database connection and pool settings
type DestinationConfig struct {
	Driver          string        `yaml:"driver"`             // postgres, mysql or memory
	Host            string        `yaml:"host"`               // Database server hostname
	Port            int           `yaml:"port"`               // Database server port
	User            string        `yaml:"user"`               // Database username
	Password        string        `yaml:"password"`           // Database password
	Database        string        `yaml:"database"`           // Target database name
	SSLMode         string        `yaml:"ssl_mode"`           // Postgres sslmode
	MaxConnections  int           `yaml:"max_connections"`    // Connection pool size
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`  // Maximum connection lifetime
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"` // Maximum connection idle time
	Timeout         time.Duration `yaml:"timeout"`            // Connect timeout
}

// PipelineConfig contains pipeline execution settings
type PipelineConfig struct {
	BatchSize        int           `yaml:"batch_size"`        // Records written in parallel per batch
	DryRun           bool          `yaml:"dry_run"`           // Write to an in-memory destination only
	SkipValidation   bool          `yaml:"skip_validation"`   // Skip the validate phase in full runs
	ValidationSample int           `yaml:"validation_sample"` // Records compared field by field per entity
	Entities         []string      `yaml:"entities"`          // Entity types to migrate (empty = all)
	ProgressInterval time.Duration `yaml:"progress_interval"` // How often progress is logged
}

// GeocodingConfig contains enrichment adapter settings
type GeocodingConfig struct {
	Enabled           bool          `yaml:"enabled"`             // Enable address geocoding
	ProviderURL       string        `yaml:"provider_url"`        // Base URL of the geocoding API
	AccessToken       string        `yaml:"access_token"`        // API token; empty means unavailable
	Country           string        `yaml:"country"`             // ISO country filter
	BatchSize         int           `yaml:"batch_size"`          // Lookups in flight per batch
	BatchDelay        time.Duration `yaml:"batch_delay"`         // Pause between batches
	RequestsPerSecond float64       `yaml:"requests_per_second"` // Client-side rate limit
	Timeout           time.Duration `yaml:"timeout"`             // Per-request timeout
}

// LoggerConfig contains logging configuration
type LoggerConfig struct {
	Level  string `yaml:"level"`  // Log level: debug, info, warn, error
	Format string `yaml:"format"` // Log format: json, text
}

// OutputConfig contains output file paths
type OutputConfig struct {
	Directory     string `yaml:"directory"`      // Output directory path
	CheckpointDir string `yaml:"checkpoint_dir"` // Phase checkpoints, relative to directory
	MappingDir    string `yaml:"mapping_dir"`    // Identifier mapping files, relative to directory
	LogDir        string `yaml:"log_dir"`        // Run logs, relative to directory
	ReportFile    string `yaml:"report_file"`    // Run report file name
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Expose /metrics
	Address string `yaml:"address"` // Listen address, e.g. ":9090"
}

// DefaultConfig returns a configuration with sensible defaults for production use
func DefaultConfig() *Config {
	return &Config{
		Dump: DumpConfig{
			Path: "legacy.sql",
		},
		Destination: DestinationConfig{
			Driver:          DriverPostgres,
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Database:        "app",
			SSLMode:         "disable",
			MaxConnections:  10,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
			Timeout:         30 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:        25,
			DryRun:           false,
			SkipValidation:   false,
			ValidationSample: 20,
			ProgressInterval: 10 * time.Second,
		},
		Geocoding: GeocodingConfig{
			Enabled:           true,
			ProviderURL:       "https://api.mapbox.com/geocoding/v5/mapbox.places",
			Country:           "gb",
			BatchSize:         10,
			BatchDelay:        time.Second,
			RequestsPerSecond: 10,
			Timeout:           10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			Directory:     "migration_output",
			CheckpointDir: "checkpoints",
			MappingDir:    "mappings",
			LogDir:        "logs",
			ReportFile:    "migration_report.json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	if err := overrideWithEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	// Validate final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// overrideWithEnv applies environment variable overrides to configuration
func overrideWithEnv(cfg *Config) error {
	envOverrides := map[string]interface{}{
		"DUMP_PATH":              &cfg.Dump.Path,
		"DEST_DRIVER":            &cfg.Destination.Driver,
		"DEST_HOST":              &cfg.Destination.Host,
		"DEST_PORT":              &cfg.Destination.Port,
		"DEST_USER":              &cfg.Destination.User,
		"DEST_PASSWORD":          &cfg.Destination.Password,
		"DEST_DATABASE":          &cfg.Destination.Database,
		"PIPELINE_BATCH_SIZE":    &cfg.Pipeline.BatchSize,
		"GEOCODING_ACCESS_TOKEN": &cfg.Geocoding.AccessToken,
		"LOG_LEVEL":              &cfg.Logger.Level,
		"OUTPUT_DIR":             &cfg.Output.Directory,
	}

	for envVar, target := range envOverrides {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		switch v := target.(type) {
		case *string:
			*v = value
		case *int:
			intVal, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s must be an integer: %w", envVar, err)
			}
			*v = intVal
		}
	}

	return nil
}

// Validate ensures all required configuration values are present and valid
func (c *Config) Validate() error {
	if c.Dump.Path == "" {
		return fmt.Errorf("dump path is required")
	}

	switch c.Destination.Driver {
	case DriverPostgres, DriverMySQL:
		if c.Destination.Host == "" {
			return fmt.Errorf("destination host is required")
		}
		if c.Destination.Database == "" {
			return fmt.Errorf("destination database is required")
		}
		if c.Destination.Port <= 0 || c.Destination.Port > 65535 {
			return fmt.Errorf("destination port must be between 1 and 65535")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown destination driver %q", c.Destination.Driver)
	}

	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline batch size must be positive")
	}
	if c.Pipeline.ValidationSample < 0 {
		return fmt.Errorf("validation sample must not be negative")
	}

	if c.Geocoding.Enabled {
		if c.Geocoding.BatchSize <= 0 {
			return fmt.Errorf("geocoding batch size must be positive")
		}
		if c.Geocoding.RequestsPerSecond <= 0 {
			return fmt.Errorf("geocoding requests per second must be positive")
		}
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output directory is required")
	}

	return nil
}

// CheckpointPath returns the directory holding phase checkpoints
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Output.Directory, c.Output.CheckpointDir)
}

// MappingPath returns the directory holding identifier mapping files
func (c *Config) MappingPath() string {
	return filepath.Join(c.Output.Directory, c.Output.MappingDir)
}

// LogPath returns the directory holding run logs
func (c *Config) LogPath() string {
	return filepath.Join(c.Output.Directory, c.Output.LogDir)
}

// ReportPath returns the run report location
func (c *Config) ReportPath() string {
	return filepath.Join(c.Output.Directory, c.Output.ReportFile)
}

// ConnectionString builds the driver-specific DSN for the destination
func (d *DestinationConfig) ConnectionString() string {
	switch d.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
		mc.DBName = d.Database
		mc.ParseTime = true
		mc.Timeout = d.Timeout
		return mc.FormatDSN()
	default:
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
			d.Host, d.Port, d.User, quoteConnValue(d.Password), d.Database, sslMode, int(d.Timeout.Seconds()))
	}
}

// quoteConnValue quotes a libpq key/value when it contains spaces or quotes
func quoteConnValue(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		return "'" + v + "'"
	}
	return v
}
