// Package config provides configuration management for the loanmaster CLI.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the loanmaster CLI configuration.
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Service configuration
	Service ServiceConfig `yaml:"service"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Projections configuration
	Projections ProjectionsConfig `yaml:"projections"`

	// Outbox configuration
	Outbox OutboxConfig `yaml:"outbox"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	// Name identifies the service in logs, metrics and traces
	Name string `yaml:"name"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the storage driver (postgres, memory)
	Driver string `yaml:"driver"`

	// URL is the database connection string
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema to use
	Schema string `yaml:"schema"`
}

// ProjectionsConfig contains read model settings.
type ProjectionsConfig struct {
	// SnapshotCadence is the number of events between aggregate snapshots
	SnapshotCadence int64 `yaml:"snapshot_cadence"`

	// BatchSize is the projection engine batch size
	BatchSize int `yaml:"batch_size"`

	// PollIntervalMillis is the engine poll interval in milliseconds
	PollIntervalMillis int `yaml:"poll_interval_millis"`
}

// OutboxConfig contains outbox delivery settings.
type OutboxConfig struct {
	// Enabled turns the outbox relay on
	Enabled bool `yaml:"enabled"`

	// Destinations lists delivery targets, e.g. "kafka:loan-events"
	Destinations []string `yaml:"destinations,omitempty"`

	// KafkaBrokers lists broker addresses for kafka destinations
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`

	// MaxAttempts is the delivery attempt ceiling before dead-lettering
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Service: ServiceConfig{
			Name:     "loanmaster",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Schema: "loanmaster",
		},
		Projections: ProjectionsConfig{
			SnapshotCadence:    25,
			BatchSize:          100,
			PollIntervalMillis: 100,
		},
		Outbox: OutboxConfig{
			Enabled:     false,
			MaxAttempts: 5,
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "loanmaster.yaml"

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves the configuration to the specified directory.
func (c *Config) Save(dir string) error {
	return c.SaveFile(filepath.Join(dir, ConfigFileName))
}

// SaveFile saves the configuration to a specific file path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up.
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate returns human-readable problems with the configuration.
func (c *Config) Validate() []string {
	var errors []string

	if c.Service.Name == "" {
		errors = append(errors, "service.name is required")
	}
	if c.Database.Driver == "" {
		errors = append(errors, "database.driver is required")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		errors = append(errors, "database.driver must be 'postgres' or 'memory'")
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		errors = append(errors, "database.url is required for postgres driver")
	}
	if c.Projections.SnapshotCadence < 0 {
		errors = append(errors, "projections.snapshot_cadence must not be negative")
	}
	if c.Outbox.Enabled && len(c.Outbox.Destinations) == 0 {
		errors = append(errors, "outbox.destinations is required when outbox is enabled")
	}

	return errors
}

// GenerateYAML generates commented YAML content for a fresh config file.
func GenerateYAML(cfg *Config) string {
	return `# Loanmaster Configuration File

version: "1"

# Service settings
service:
  # Service name used in logs, metrics and traces
  name: "` + cfg.Service.Name + `"

  # Log level: debug, info, warn, error
  log_level: "` + cfg.Service.LogLevel + `"

# Database configuration
database:
  # Driver: postgres or memory
  driver: "` + cfg.Database.Driver + `"

  # Connection URL (required for postgres)
  url: "${DATABASE_URL}"

  # Database schema (postgres only)
  schema: "` + cfg.Database.Schema + `"

# Read model settings
projections:
  # Events between aggregate snapshots
  snapshot_cadence: 25

  # Projection engine batch size
  batch_size: 100

  # Engine poll interval in milliseconds
  poll_interval_millis: 100

# Outbox delivery
outbox:
  enabled: false
  # destinations:
  #   - "kafka:loan-events"
  #   - "webhook:https://example.com/hooks/loans"
  # kafka_brokers:
  #   - "localhost:9092"
  max_attempts: 5
`
}
