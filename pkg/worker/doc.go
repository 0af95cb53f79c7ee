// Package worker provides a generic worker pool for jobs that must not block
// the goroutine that produces them.
//
// The relay submits one persistence job per finalized stream. Submit never
// blocks: a full queue returns ErrQueueFull and the caller decides whether to
// drop the job. Statistics are always tracked with atomics; Prometheus metrics
// are added with WithMetricsRegistry.
//
//	pool := worker.NewPool(2, 64, persist,
//	    worker.WithMetricsRegistry[Job](registry, "persist_pool"),
//	    worker.WithLogger[Job](logger),
//	)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(10 * time.Second)
//
// Stop closes the queue and lets workers drain what is already queued, up to
// the timeout. Cancelling the context passed to Start abandons queued jobs
// instead. A processor panic is recovered and counted as a failure.
package worker
