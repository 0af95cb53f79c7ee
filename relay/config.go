package relay

import (
	"github.com/c360/plyrelay/errors"
)

const (
	// DefaultOutputSession is the reserved session that carries finalized,
	// chunked streams.
	DefaultOutputSession = "plyStream"
	// DefaultChunkSize is the largest binary chunk sent to the output session.
	DefaultChunkSize = 65536
	// DefaultSentinel marks the end of one finalized stream.
	DefaultSentinel = "__END__"
)

// Config holds the relay protocol settings.
type Config struct {
	OutputSession string `json:"output_session" yaml:"output_session"`
	ChunkSize     int    `json:"chunk_size" yaml:"chunk_size"`
	EndSentinel   string `json:"end_sentinel" yaml:"end_sentinel"`

	// BroadcastConcurrency caps concurrent sends per broadcast; 0 is unbounded.
	BroadcastConcurrency int `json:"broadcast_concurrency" yaml:"broadcast_concurrency"`
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		OutputSession: DefaultOutputSession,
		ChunkSize:     DefaultChunkSize,
		EndSentinel:   DefaultSentinel,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.OutputSession == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "relay", "Validate", "output_session is required")
	}
	if c.ChunkSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "relay", "Validate", "chunk_size must be positive")
	}
	if c.EndSentinel == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "relay", "Validate", "end_sentinel is required")
	}
	if c.BroadcastConcurrency < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "relay", "Validate", "broadcast_concurrency cannot be negative")
	}
	return nil
}
