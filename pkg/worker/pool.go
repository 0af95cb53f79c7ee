// Package worker provides a generic worker pool for background jobs
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/plyrelay/metric"
)

// Pool runs a fixed number of workers that process jobs of type T from a
// bounded queue.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	quit     chan struct{}
	cancel   context.CancelFunc
	metrics  *Metrics
	wg       sync.WaitGroup
	logger   *slog.Logger

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panicked  atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics under prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithLogger sets the logger used for processor errors and panics
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a new worker pool. Non-positive sizes fall back to defaults.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		quit:      make(chan struct{}),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	metrics := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_queue_depth",
			Help:      "Current worker pool queue depth",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_utilization",
			Help:      "Worker pool queue utilization (0-1)",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_submitted_total",
			Help:      "Total jobs submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_processed_total",
			Help:      "Total jobs processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_failed_total",
			Help:      "Total jobs that returned an error or panicked",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_dropped_total",
			Help:      "Total jobs dropped because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_processing_duration_seconds",
			Help:      "Time spent processing jobs",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"status"}),
	}

	const serviceName = "worker_pool"
	errs := []error{
		p.metricsRegistry.RegisterGauge(serviceName, prefix+"_queue_depth", metrics.queueDepth),
		p.metricsRegistry.RegisterGauge(serviceName, prefix+"_utilization", metrics.utilization),
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_submitted_total", metrics.submitted),
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_processed_total", metrics.processed),
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", metrics.failed),
		p.metricsRegistry.RegisterCounter(serviceName, prefix+"_dropped_total", metrics.dropped),
		p.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", metrics.processingTime),
	}
	for _, err := range errs {
		if err != nil {
			p.logger.Warn("worker pool metric registration failed", "pool", prefix, "error", err)
		}
	}

	p.metrics = metrics
}

// Submit queues a job without blocking. Returns ErrQueueFull when the queue
// is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Jobs see ctx's values but not its
// cancellation: queued work is drained by Stop, and only a Stop that times out
// cancels the jobs still running.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	var jobCtx context.Context
	jobCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(jobCtx, i)
	}

	if p.metrics != nil {
		p.wg.Add(1)
		go p.metricsUpdater()
	}

	p.started = true
	return nil
}

// Stop refuses new work and waits up to timeout for queued jobs to drain.
// On timeout the remaining jobs are cancelled. It is safe to call more than
// once.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	close(p.quit)
	cancel := p.cancel
	p.lifecycleMu.Unlock()

	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		p.logger.Warn("worker pool stop timed out", "timeout", timeout, "abandoned", len(p.workChan))
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
		Panicked:   p.panicked.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panicked   int64 `json:"panicked"`
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for work := range p.workChan {
		// After a timed-out Stop the rest of the queue is discarded.
		if ctx.Err() != nil {
			continue
		}

		start := time.Now()
		err := p.process(ctx, work)
		duration := time.Since(start)

		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
			p.logger.Debug("worker job failed", "worker", id, "error", err)
		}

		if p.metrics != nil {
			p.metrics.processed.Inc()
			status := "success"
			if err != nil {
				p.metrics.failed.Inc()
				status = "error"
			}
			p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
		}
	}
}

// process runs the processor, turning a panic into an error so one bad job
// cannot take the worker down.
func (p *Pool[T]) process(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			err = fmt.Errorf("worker job panicked: %v", r)
			p.logger.Error("worker job panicked", "panic", r)
		}
	}()
	return p.processor(ctx, work)
}

func (p *Pool[T]) metricsUpdater() {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			queueDepth := float64(len(p.workChan))
			p.metrics.queueDepth.Set(queueDepth)
			p.metrics.utilization.Set(queueDepth / float64(p.queueSize))
		}
	}
}
