package storage

import (
	"context"
	"path"
	"strings"

	"github.com/c360/plyrelay/errors"
)

// Store is the pluggable backend interface for storage operations.
//
// Keys are slash-separated strings; values are opaque bytes. All
// implementations must be safe for concurrent use.
//
//	err := store.Put(ctx, "7f9c...e1.ply", data)
//	data, err := store.Get(ctx, "7f9c...e1.ply")
//	keys, err := store.List(ctx, "")
type Store interface {
	// Put stores data at key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data stored at key. A missing key returns an error
	// wrapping errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix in lexicographic order.
	// An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key returns nil.
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report whether their backend is
// reachable without touching stored data.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ValidateKey rejects keys that are empty, absolute, or escape the store
// root through "." or ".." segments.
func ValidateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "storage", "ValidateKey", "empty key")
	}
	if strings.ContainsAny(key, "\\\x00") {
		return errors.WrapInvalid(errors.ErrInvalidKey, "storage", "ValidateKey",
			"key contains backslash or NUL: "+key)
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return errors.WrapInvalid(errors.ErrInvalidKey, "storage", "ValidateKey",
			"key is not a clean relative path: "+key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." {
			return errors.WrapInvalid(errors.ErrInvalidKey, "storage", "ValidateKey",
				"key escapes store root: "+key)
		}
	}
	return nil
}
