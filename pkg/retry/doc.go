// Package retry provides exponential backoff with jitter for operations that
// fail transiently, such as connecting to NATS at startup.
//
// Presets cover the common cases:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay
//   - Persistent(): 30 attempts, 200ms-10s delay
//
// Transient narrows any preset to errors that errors.IsTransient accepts;
// everything else is returned after the first attempt. NonRetryable marks a
// single error as final regardless of configuration.
//
//	cfg := retry.Transient(retry.Quick())
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("nats connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//	nc, err := retry.DoWithResult(ctx, cfg, func() (*nats.Conn, error) {
//	    return nats.Connect(url)
//	})
//
// Every wait respects context cancellation.
package retry
