// Package config loads the leaseline.json configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "leaseline.json"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultDriver is the default database driver.
	DefaultDriver = "sqlite"

	// DefaultDSN is the default SQLite database location.
	DefaultDSN = "leaseline.db"
)

// Config is the complete leaseline.json configuration.
type Config struct {
	// Addr is the listen address for the API server.
	Addr string `json:"addr,omitempty"`

	// Database selects and configures the backing store.
	Database DatabaseConfig `json:"database,omitempty"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Tracing enables OpenTelemetry spans for API requests.
	Tracing bool `json:"tracing,omitempty"`

	// Log configures structured logging.
	Log LogConfig `json:"log,omitempty"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver,omitempty"`

	// DSN is the database location: a file path for sqlite, a connection
	// URL for postgres.
	DSN string `json:"dsn,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `json:"level,omitempty"`

	// Format is text or json. Default: text.
	Format string `json:"format,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Addr: DefaultAddr,
		Database: DatabaseConfig{
			Driver: DefaultDriver,
			DSN:    DefaultDSN,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads ConfigFileName from the working directory, falling back to
// defaults when the file does not exist. Environment variables override
// file values.
func Load() (*Config, error) {
	return LoadFrom(ConfigFileName)
}

// LoadFrom reads the configuration from path. A missing file is not an
// error: defaults apply.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env overrides.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with LEASELINE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LEASELINE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LEASELINE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LEASELINE_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LEASELINE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects configurations the server cannot start from.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
