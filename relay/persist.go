package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/metric"
	"github.com/c360/plyrelay/pkg/worker"
	"github.com/c360/plyrelay/storage"
)

// PersistConfig controls the persistence pool.
type PersistConfig struct {
	Workers   int           `json:"workers" yaml:"workers"`
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	Extension string        `json:"extension" yaml:"extension"`
}

// DefaultPersistConfig returns two workers, a 64-job queue, 30s per write and
// the ".ply" extension.
func DefaultPersistConfig() PersistConfig {
	return PersistConfig{
		Workers:   2,
		QueueSize: 64,
		Timeout:   30 * time.Second,
		Extension: ".ply",
	}
}

type persistJob struct {
	source string
	key    string
	data   []byte
}

var _ Persister = (*StorePersister)(nil)

// StorePersister writes finalized streams to a storage.Store from a worker
// pool, so finalization never waits on I/O. A failed write is logged and
// counted; it is not retried.
type StorePersister struct {
	store   storage.Store
	pool    *worker.Pool[persistJob]
	cfg     PersistConfig
	logger  *slog.Logger
	metrics *Metrics
}

// NewStorePersister creates a persister backed by store. Call Start before
// the first Persist.
func NewStorePersister(store storage.Store, cfg PersistConfig, logger *slog.Logger,
	metrics *Metrics, registry *metric.MetricsRegistry) *StorePersister {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPersistConfig().Timeout
	}

	p := &StorePersister{
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "persister"),
		metrics: metrics,
	}
	p.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, p.process,
		worker.WithMetricsRegistry[persistJob](registry, "persist_pool"),
		worker.WithLogger[persistJob](p.logger),
	)
	return p
}

// Start launches the persistence workers.
func (p *StorePersister) Start(ctx context.Context) error {
	return p.pool.Start(ctx)
}

// Stop waits up to timeout for queued writes to finish.
func (p *StorePersister) Stop(timeout time.Duration) error {
	return p.pool.Stop(timeout)
}

// Stats reports the pool counters.
func (p *StorePersister) Stats() worker.PoolStats {
	return p.pool.Stats()
}

// Persist queues data under a fresh "<uuid><extension>" key and returns the
// key without waiting for the write.
func (p *StorePersister) Persist(source string, data []byte) (string, error) {
	job := persistJob{
		source: source,
		key:    uuid.NewString() + p.cfg.Extension,
		data:   data,
	}
	if err := p.pool.Submit(job); err != nil {
		p.metrics.persistDropped()
		return "", errors.WrapTransient(err, "StorePersister", "Persist", "queue "+job.key)
	}
	return job.key, nil
}

func (p *StorePersister) process(ctx context.Context, job persistJob) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := p.store.Put(ctx, job.key, job.data)
	p.metrics.persistResult(err, len(job.data))

	if err != nil {
		p.logger.Error("persist failed",
			"session", job.source,
			"key", job.key,
			"bytes", len(job.data),
			"error_class", errors.Classify(err).String(),
			"error", err)
		return err
	}

	p.logger.Info("stream persisted",
		"session", job.source,
		"key", job.key,
		"bytes", len(job.data),
		"duration", time.Since(start))
	return nil
}
