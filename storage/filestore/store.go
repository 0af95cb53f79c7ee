// Package filestore implements storage.Store on a local directory.
package filestore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/storage"
)

const tempPrefix = ".tmp-"

var _ storage.Store = (*Store)(nil)

// Store keeps one file per key below a root directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "filestore", "New", "directory is empty")
	}

	s := &Store{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, classify(err, "New", "create directory "+dir)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

// Put writes data to a temporary file next to the target and renames it into
// place, so readers never observe a partial file.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "filestore", "Put", "context done")
	}

	target := s.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return classify(err, "Put", "create directory "+dir)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return classify(err, "Put", "create temp file")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return classify(err, "Put", "write "+key)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return classify(err, "Put", "sync "+key)
	}
	if err := tmp.Close(); err != nil {
		return classify(err, "Put", "close "+key)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return classify(err, "Put", "chmod "+key)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return classify(err, "Put", "rename into "+key)
	}
	committed = true

	s.logger.Debug("file stored", "key", key, "bytes", len(data), "path", target)
	return nil
}

// Get reads the file stored at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "filestore", "Get", "context done")
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "filestore", "Get", key)
		}
		return nil, classify(err, "Get", "read "+key)
	}
	return data, nil
}

// List walks the directory and returns keys with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "List", "walk "+s.dir)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes the file at key. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "filestore", "Delete", "context done")
	}

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classify(err, "Delete", "remove "+key)
	}
	return nil
}

func classify(err error, method, action string) error {
	if errors.IsFatal(err) {
		return errors.WrapFatal(err, "filestore", method, action)
	}
	return errors.WrapTransient(err, "filestore", method, action)
}

// Ping reports whether the root directory still exists and is a directory.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return classify(err, "Ping", "stat "+s.dir)
	}
	if !info.IsDir() {
		return errors.WrapFatal(errors.ErrStorageUnavailable, "filestore", "Ping", s.dir+" is not a directory")
	}
	return nil
}
