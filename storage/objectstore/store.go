package objectstore

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/metric"
	"github.com/c360/plyrelay/pkg/retry"
	"github.com/c360/plyrelay/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps one object per key in a JetStream object store bucket.
type Store struct {
	nc       *nats.Conn
	ownsConn bool
	bucket   string
	objects  jetstream.ObjectStore
	metrics  *storeMetrics
	logger   *slog.Logger
}

type options struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	retry    retry.Config
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRegistry enables store metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithRetry replaces the backoff used while connecting.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		retry:  retry.Transient(retry.Quick()),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Connect dials NATS, retrying transient failures, and opens the bucket.
// The returned Store owns the connection and closes it on Close.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	logger := o.logger.With("component", "objectstore", "bucket", cfg.Bucket)

	retryCfg := o.retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS connect failed, retrying", "url", cfg.URL, "attempt", attempt, "delay", delay, "error", err)
	}

	nc, err := retry.DoWithResult(ctx, retryCfg, func() (*nats.Conn, error) {
		return nats.Connect(cfg.URL,
			nats.Name("plyrelay"),
			nats.Timeout(cfg.ConnectTimeout),
		)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "Connect", "connect to "+cfg.URL)
	}

	store, err := open(ctx, nc, cfg.Bucket, o)
	if err != nil {
		nc.Close()
		return nil, err
	}
	store.ownsConn = true
	return store, nil
}

// New opens bucket on an existing connection, creating it if missing. The
// caller keeps ownership of nc.
func New(ctx context.Context, nc *nats.Conn, bucket string, opts ...Option) (*Store, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "objectstore", "New", "nil NATS connection")
	}
	return open(ctx, nc, bucket, buildOptions(opts))
}

func open(ctx context.Context, nc *nats.Conn, bucket string, o options) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.WrapFatal(err, "objectstore", "New", "create JetStream context")
	}

	objects, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		objects, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "finalized point-cloud streams",
		})
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "New", "open bucket "+bucket)
	}

	metrics, err := newStoreMetrics(o.registry, bucket)
	if err != nil {
		return nil, err
	}

	return &Store{
		nc:      nc,
		bucket:  bucket,
		objects: objects,
		metrics: metrics,
		logger:  o.logger.With("component", "objectstore", "bucket", bucket),
	}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

// Put stores data under key, replacing any previous object.
func (s *Store) Put(ctx context.Context, key string, data []byte) (err error) {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	defer func(start time.Time) { s.metrics.observe("put", start, err) }(time.Now())

	if _, err = s.objects.PutBytes(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "objectstore", "Put", "put "+key)
	}
	s.metrics.wrote(len(data))
	s.logger.Debug("object stored", "key", key, "bytes", len(data))
	return nil
}

// Get returns the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (data []byte, err error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	defer func(start time.Time) { s.metrics.observe("get", start, err) }(time.Now())

	data, err = s.objects.GetBytes(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "objectstore", "Get", key)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "Get", "get "+key)
	}
	return data, nil
}

// List returns the names of live objects with the given prefix. The bucket
// has no server-side prefix filter, so every object is listed and filtered here.
func (s *Store) List(ctx context.Context, prefix string) (keys []string, err error) {
	defer func(start time.Time) { s.metrics.observe("list", start, err) }(time.Now())

	infos, err := s.objects.List(ctx)
	if errors.Is(err, jetstream.ErrNoObjectsFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "List", "list bucket "+s.bucket)
	}

	keys = make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}
		keys = append(keys, info.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object stored under key. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	defer func(start time.Time) { s.metrics.observe("delete", start, err) }(time.Now())

	err = s.objects.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "objectstore", "Delete", "delete "+key)
	}
	return nil
}

// Close releases the NATS connection if the store opened it.
func (s *Store) Close() error {
	if !s.ownsConn || s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return errors.WrapTransient(err, "objectstore", "Close", "drain connection")
	}
	return nil
}

// Ping reports whether the connection is up and the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if !s.nc.IsConnected() {
		return errors.WrapTransient(errors.ErrConnectionLost, "objectstore", "Ping",
			"connection status "+s.nc.Status().String())
	}
	if _, err := s.objects.Status(ctx); err != nil {
		return errors.WrapTransient(err, "objectstore", "Ping", "bucket status")
	}
	return nil
}
