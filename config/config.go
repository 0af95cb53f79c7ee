package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/relay"
	"github.com/c360/plyrelay/storage/objectstore"
	"github.com/c360/plyrelay/transport/websocket"
)

// Storage backends.
const (
	BackendFile = "file"
	BackendNATS = "nats"
)

// Config is the complete relay configuration.
type Config struct {
	Server      websocket.Config  `json:"server" yaml:"server"`
	Relay       relay.Config      `json:"relay" yaml:"relay"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// StorageConfig selects where finalized streams are written.
type StorageConfig struct {
	Backend   string             `json:"backend" yaml:"backend"`
	Directory string             `json:"directory" yaml:"directory"`
	Extension string             `json:"extension" yaml:"extension"`
	NATS      objectstore.Config `json:"nats" yaml:"nats"`
}

// PersistenceConfig sizes the background writer pool.
type PersistenceConfig struct {
	Workers   int           `json:"workers" yaml:"workers"`
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	persist := relay.DefaultPersistConfig()
	return &Config{
		Server: websocket.DefaultConfig(),
		Relay:  relay.DefaultConfig(),
		Storage: StorageConfig{
			Backend:   BackendFile,
			Directory: "files",
			Extension: persist.Extension,
			NATS:      objectstore.DefaultConfig(),
		},
		Persistence: PersistenceConfig{
			Workers:   persist.Workers,
			QueueSize: persist.QueueSize,
			Timeout:   persist.Timeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// PersistConfig returns the settings for relay.NewStorePersister.
func (c *Config) PersistConfig() relay.PersistConfig {
	cfg := relay.DefaultPersistConfig()
	cfg.Workers = c.Persistence.Workers
	cfg.QueueSize = c.Persistence.QueueSize
	if c.Persistence.Timeout > 0 {
		cfg.Timeout = c.Persistence.Timeout
	}
	cfg.Extension = c.Storage.Extension
	return cfg
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "server section")
	}
	if err := c.Relay.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "relay section")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Directory == "" {
			return invalid("storage.directory is required for the file backend")
		}
	case BackendNATS:
		if err := c.Storage.NATS.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "storage.nats section")
		}
	default:
		return invalid(fmt.Sprintf("unknown storage.backend %q (want %q or %q)",
			c.Storage.Backend, BackendFile, BackendNATS))
	}
	if c.Storage.Extension != "" && c.Storage.Extension[0] != '.' {
		return invalid(fmt.Sprintf("storage.extension %q must start with a dot", c.Storage.Extension))
	}

	if c.Persistence.Workers <= 0 {
		return invalid("persistence.workers must be positive")
	}
	if c.Persistence.QueueSize <= 0 {
		return invalid("persistence.queue_size must be positive")
	}
	if c.Persistence.Timeout < 0 {
		return invalid("persistence.timeout cannot be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return invalid(fmt.Sprintf("invalid metrics.port %d", c.Metrics.Port))
		}
		if c.Metrics.Port == c.Server.Port {
			return invalid("metrics.port must differ from server.port")
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return invalid(fmt.Sprintf("invalid metrics.path %q", c.Metrics.Path))
		}
	}

	if slices.Contains(c.Server.AllowedOrigins, "") {
		return invalid("server.allowed_origins cannot contain empty entries")
	}
	return nil
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}
