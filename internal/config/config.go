package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/devrev/analysisdb/internal/model"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds process identity and shutdown configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds analysis database configuration
type DatabaseConfig struct {
	// Tables overrides the default memo table registry when non-empty
	Tables      []model.TableDescriptor `yaml:"tables"`
	MaxFileSize int                     `yaml:"max_file_size"`
}

// GCConfig holds memo garbage collection configuration
type GCConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
	// Async hands sweeps to the worker pool instead of running them inline
	Async     bool          `yaml:"async"`
	Interval  time.Duration `yaml:"interval"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DebugConfig holds diagnostics configuration
type DebugConfig struct {
	// AllowMemoryProfile exposes the per-query memory report. Producing
	// the report discards every memo table.
	AllowMemoryProfile bool `yaml:"allow_memory_profile"`
	// MemoryPressureBytes is the engine allocation at which health reports
	// degraded. Zero disables the check.
	MemoryPressureBytes int64 `yaml:"memory_pressure_bytes"`
	// GCStaleAfter is how long without a sweep before health reports
	// degraded. Zero disables the check.
	GCStaleAfter time.Duration `yaml:"gc_stale_after"`
}

// Config represents the complete configuration of the analysis database
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	GC       GCConfig       `yaml:"gc"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Debug    DebugConfig    `yaml:"debug"`
}

const (
	// DefaultGCCooldown is the minimum time between two garbage collection
	// checks
	DefaultGCCooldown = 100 * time.Millisecond
	// DefaultMaxFileSize bounds the text of a single file
	DefaultMaxFileSize = 64 << 20
)

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{
		GC:      GCConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	setDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file. Environment variables
// prefixed with ANALYSISDB_ take precedence over the file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		GC:      GCConfig{Enabled: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.NodeID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Server.NodeID = host
		} else {
			cfg.Server.NodeID = "analysisdb"
		}
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Database.MaxFileSize == 0 {
		cfg.Database.MaxFileSize = DefaultMaxFileSize
	}

	if cfg.GC.Cooldown == 0 {
		cfg.GC.Cooldown = DefaultGCCooldown
	}
	if cfg.GC.Interval == 0 {
		cfg.GC.Interval = time.Second
	}
	if cfg.GC.Workers == 0 {
		cfg.GC.Workers = 1
	}
	if cfg.GC.QueueSize == 0 {
		cfg.GC.QueueSize = 4
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	if nodeID := os.Getenv("ANALYSISDB_NODE_ID"); nodeID != "" {
		cfg.Server.NodeID = nodeID
	}

	if enabled := os.Getenv("ANALYSISDB_GC_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.GC.Enabled = b
		}
	}
	if cooldown := os.Getenv("ANALYSISDB_GC_COOLDOWN"); cooldown != "" {
		if d, err := time.ParseDuration(cooldown); err == nil {
			cfg.GC.Cooldown = d
		}
	}
	if async := os.Getenv("ANALYSISDB_GC_ASYNC"); async != "" {
		if b, err := strconv.ParseBool(async); err == nil {
			cfg.GC.Async = b
		}
	}

	if port := os.Getenv("ANALYSISDB_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Metrics.Port = p
		}
	}

	if logLevel := os.Getenv("ANALYSISDB_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Database.MaxFileSize < 0 {
		return fmt.Errorf("database.max_file_size must not be negative")
	}
	seen := make(map[model.TableID]bool, len(c.Database.Tables))
	for i, t := range c.Database.Tables {
		if t.ID == "" {
			return fmt.Errorf("database.tables[%d].id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("database.tables[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
	}
	if c.GC.Cooldown < 0 {
		return fmt.Errorf("gc.cooldown must not be negative")
	}
	if c.GC.Workers < 1 {
		return fmt.Errorf("gc.workers must be positive")
	}
	if c.GC.QueueSize < 1 {
		return fmt.Errorf("gc.queue_size must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be one of: json, console")
	}
	return nil
}
