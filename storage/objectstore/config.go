package objectstore

import (
	"regexp"
	"time"

	"github.com/c360/plyrelay/errors"
)

var bucketName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds connection and bucket settings for the NATS object store.
type Config struct {
	// URL is the NATS server URL.
	URL string `json:"url" yaml:"url"`

	// Bucket is the JetStream object store bucket, created on first use.
	Bucket string `json:"bucket" yaml:"bucket"`

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DefaultConfig returns settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		Bucket:         "PLY_FILES",
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "objectstore", "Validate", "url is required")
	}
	if !bucketName.MatchString(c.Bucket) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objectstore", "Validate",
			"bucket must match "+bucketName.String()+": "+c.Bucket)
	}
	if c.ConnectTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objectstore", "Validate",
			"connect_timeout must not be negative")
	}
	return nil
}
