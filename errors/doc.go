// Package errors provides standardized error handling for plyrelay.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or configuration, not retryable) and Fatal (unrecoverable). The relay
// uses the classes to decide what is worth retrying, such as connecting to the NATS
// object store at startup, and what should abort startup, such as a bad config file.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers attach a class while wrapping:
//
//	errors.WrapTransient(err, "FileStore", "Put", "write temp file")
//	errors.WrapInvalid(err, "Config", "Validate", "chunk_size must be positive")
//	errors.WrapFatal(err, "Server", "Start", "listen")
//
// Plain Wrap keeps whatever class the wrapped error already carries.
//
// # Standard Error Variables
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrShuttingDown
//   - Connection: ErrConnectionLost, ErrConnectionTimeout, ErrPolicyViolation
//   - Data: ErrInvalidData, ErrInvalidKey
//   - Storage: ErrStorageFull, ErrStorageUnavailable, ErrKeyNotFound
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//   - Resources: ErrResourceExhausted, ErrQueueFull
//
// # Relay Usage
//
// Failures inside the relay's hot path (a send to one consumer, a persistence job)
// are never returned to a connection's owner. They are logged and counted. The
// classified errors in this package show up at the edges: configuration loading,
// server startup, and storage backends.
package errors
