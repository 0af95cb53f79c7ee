// Package health reports the liveness of the relay and its dependencies.
//
// A Monitor holds named CheckFunc values. Check runs them in registration
// order and folds the results with Aggregate: one unhealthy check makes the
// whole system unhealthy, otherwise one degraded check degrades it.
//
//	monitor := health.NewMonitor("plyrelay")
//	monitor.Register("sessions", func(context.Context) health.Status {
//	    return health.NewHealthy("sessions", "ok").WithDetail("active", registry.Stats().Sessions)
//	})
//	mux.Handle("/healthz", monitor.Handler(logger))
//
// FromError converts a dependency check into a Status. Error text is
// sanitized first so URLs, paths and credentials are not served to
// unauthenticated clients.
package health
