package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP API server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig holds the persistent store configuration
type StoreConfig struct {
	// Driver selects the store adapter: "postgres" or "sqlite"
	Driver string `yaml:"driver"`
	// DSN is the connection string (postgres URL, or sqlite file path)
	DSN            string        `yaml:"dsn"`
	MaxConnections int           `yaml:"max_connections"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
}

// EngineConfig holds the cache engine configuration
type EngineConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	EvictInterval time.Duration `yaml:"evict_interval"`
	FlushWorkers  int           `yaml:"flush_workers"`
}

// MetricsConfig holds the metrics server configuration
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

// Config represents the complete daemon configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file, then applies environment
// overrides and defaults. A missing file is not an error; the daemon can run
// from environment variables alone.
func LoadConfig(filePath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyEnv applies the documented environment overrides: PG_DSN,
// FLUSH_INTERVAL, IDLE_TTL (both in seconds) and MAX_CONNECTIONS.
func applyEnv(cfg *Config) error {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
		if cfg.Store.Driver == "" {
			cfg.Store.Driver = "postgres"
		}
	}
	if v := os.Getenv("FLUSH_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLUSH_INTERVAL must be an integer number of seconds: %w", err)
		}
		cfg.Engine.FlushInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("IDLE_TTL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IDLE_TTL must be an integer number of seconds: %w", err)
		}
		cfg.Engine.EvictInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONNECTIONS must be an integer: %w", err)
		}
		cfg.Store.MaxConnections = n
	}
	return nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = uuid.NewString()
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Store.MaxConnections == 0 {
		cfg.Store.MaxConnections = 5
	}
	if cfg.Store.OpTimeout == 0 {
		cfg.Store.OpTimeout = 5 * time.Second
	}

	if cfg.Engine.FlushInterval == 0 {
		cfg.Engine.FlushInterval = 10 * time.Second
	}
	if cfg.Engine.EvictInterval == 0 {
		cfg.Engine.EvictInterval = 30 * time.Second
	}
	if cfg.Engine.FlushWorkers == 0 {
		cfg.Engine.FlushWorkers = 4
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
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required (or set PG_DSN)")
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("store.driver must be 'postgres' or 'sqlite'")
	}
	if c.Store.MaxConnections < 1 {
		return fmt.Errorf("store.max_connections must be at least 1")
	}
	if c.Engine.FlushInterval < time.Second {
		return fmt.Errorf("engine.flush_interval must be at least 1s")
	}
	if c.Engine.EvictInterval < time.Second {
		return fmt.Errorf("engine.evict_interval must be at least 1s")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}
