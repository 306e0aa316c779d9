// Package config provides service configuration for the stderr daemon and CLI.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all service configuration
type Config struct {
	// Application selects the error-routing document and environment
	Application ApplicationConfig `toml:"application"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Server configuration for `stderr serve`
	Server ServerConfig `toml:"server"`

	// Metrics configuration
	Metrics MetricsConfig `toml:"metrics"`
}

// ApplicationConfig points at the error-routing document
type ApplicationConfig struct {
	// File is the path to the XML, TOML or YAML routing document
	File string `toml:"file" env:"STDERR_CONFIG_FILE"`

	// Environment is the development environment tag (local, dev, live, ...)
	Environment string `toml:"environment" env:"STDERR_ENVIRONMENT"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `toml:"level" env:"STDERR_LOG_LEVEL"`

	// Format is the log format (json, text)
	Format string `toml:"format" env:"STDERR_LOG_FORMAT"`

	// Output is stdout, stderr or file
	Output string `toml:"output" env:"STDERR_LOG_OUTPUT"`

	// File is the log file path when Output is "file"
	File string `toml:"file" env:"STDERR_LOG_FILE"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Listen is the host:port the demo server binds to
	Listen string `toml:"listen" env:"STDERR_LISTEN"`

	// ShutdownTimeout is how long in-flight requests get on shutdown
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"STDERR_METRICS_ENABLED"`
	Path    string `toml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			File:        "stderr.xml",
			Environment: "local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			ShutdownTimeout: "10s",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".stderr", "config.toml"),
		filepath.Join("/etc", "stderr", "config.toml"),
		"./config.toml",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Application.File == "" {
		return fmt.Errorf("%w: application.file is required", ErrMissingValue)
	}
	if strings.TrimSpace(c.Application.Environment) == "" {
		return fmt.Errorf("%w: application.environment is required", ErrMissingValue)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrInvalidConfig)
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("%w: server.listen %q: %w", ErrInvalidConfig, c.Server.Listen, err)
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return fmt.Errorf("%w: server.shutdown_timeout: %w", ErrInvalidConfig, err)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics.path must start with '/'", ErrInvalidConfig)
	}

	return nil
}

// ShutdownTimeout parses Server.ShutdownTimeout. An empty value is 10s.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	if c.Server.ShutdownTimeout == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// LogOutput returns the value to hand to logger.Initialize as output.
func (c *Config) LogOutput() string {
	if c.Logging.Output == "file" {
		return c.Logging.File
	}
	return c.Logging.Output
}
