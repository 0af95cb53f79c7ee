package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/plyrelay/config"
	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/health"
	"github.com/c360/plyrelay/metric"
	"github.com/c360/plyrelay/relay"
	"github.com/c360/plyrelay/session"
	"github.com/c360/plyrelay/storage"
	"github.com/c360/plyrelay/storage/filestore"
	"github.com/c360/plyrelay/storage/objectstore"
	"github.com/c360/plyrelay/transport/websocket"
)

// app owns every long-lived component of a running relay.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metricsRegistry *metric.MetricsRegistry
	metricsServer   *metric.Server
	registry        *session.Registry
	store           storage.Store
	closeStore      func() error
	persister       *relay.StorePersister
	monitor         *health.Monitor
	server          *websocket.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		closeStore: func() error { return nil },
	}

	if cfg.Metrics.Enabled {
		a.metricsRegistry = metric.NewMetricsRegistry()
		a.metricsRegistry.CoreMetrics().RecordBuildInfo(Version)
		a.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.metricsRegistry, logger)
	}

	a.registry = session.NewRegistry(
		session.WithLogger(logger),
		session.WithMetricsRegistry(a.metricsRegistry),
		session.WithSendLimit(cfg.Relay.BroadcastConcurrency),
	)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	relayMetrics := relay.NewMetrics(a.metricsRegistry)
	a.persister = relay.NewStorePersister(a.store, cfg.PersistConfig(), logger, relayMetrics, a.metricsRegistry)
	dispatcher := relay.NewDispatcher(cfg.Relay, a.registry, a.persister, logger, relayMetrics)

	a.monitor = health.NewMonitor(appName)
	a.monitor.Register("sessions", a.sessionsHealth)
	a.monitor.Register("storage", a.storageHealth)
	a.monitor.Register("persistence", a.persistenceHealth)

	a.server = websocket.NewServer(cfg.Server, dispatcher,
		websocket.WithLogger(logger),
		websocket.WithMetricsRegistry(a.metricsRegistry),
		websocket.WithHealthMonitor(a.monitor),
	)
	if err := a.server.Initialize(); err != nil {
		_ = a.closeStore()
		return nil, err
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendNATS:
		a.logger.Info("Connecting to NATS object store",
			"url", a.cfg.Storage.NATS.URL, "bucket", a.cfg.Storage.NATS.Bucket)
		store, err := objectstore.Connect(ctx, a.cfg.Storage.NATS,
			objectstore.WithLogger(a.logger),
			objectstore.WithMetricsRegistry(a.metricsRegistry),
		)
		if err != nil {
			return errors.Wrap(err, "app", "openStore", "connect object store")
		}
		a.store = store
		a.closeStore = store.Close
	default:
		store, err := filestore.New(a.cfg.Storage.Directory, filestore.WithLogger(a.logger))
		if err != nil {
			return errors.Wrap(err, "app", "openStore", "open file store")
		}
		a.logger.Info("Persisting streams to directory", "dir", store.Dir())
		a.store = store
	}
	return nil
}

// Start launches persistence first so the server never accepts a stream it
// cannot persist.
func (a *app) Start(ctx context.Context) error {
	if err := a.persister.Start(ctx); err != nil {
		return errors.Wrap(err, "app", "Start", "start persister")
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return errors.Wrap(err, "app", "Start", "start metrics server")
		}
		a.logger.Info("Metrics available", "url", a.metricsServer.Address())
	}
	if err := a.server.Start(ctx); err != nil {
		return errors.Wrap(err, "app", "Start", "start websocket server")
	}
	return nil
}

// Stop shuts down in dependency order: the server first, so producers
// finalize and queue their writes, then the persister drains the queue before
// the store is closed. Every step runs even if an earlier one fails; the
// first error is returned.
func (a *app) Stop(timeout time.Duration) error {
	var firstErr error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.logger.Error("Shutdown step failed", "step", name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "app", "Stop", name)
			}
		}
	}

	step("websocket server", func() error { return a.server.Stop(timeout) })
	step("persister", func() error { return a.persister.Stop(timeout) })
	a.registry.Close()
	step("store", a.closeStore)
	if a.metricsServer != nil {
		step("metrics server", func() error { return a.metricsServer.Stop(timeout) })
	}
	return firstErr
}

// Addr returns the WebSocket listener address.
func (a *app) Addr() string {
	return a.server.Addr()
}

func (a *app) sessionsHealth(context.Context) health.Status {
	stats := a.registry.Stats()
	return health.NewHealthy("sessions", fmt.Sprintf("%d active sessions", stats.Sessions)).
		WithDetail("sessions", stats.Sessions).
		WithDetail("producers", stats.Producers).
		WithDetail("consumers", stats.Consumers)
}

func (a *app) storageHealth(ctx context.Context) health.Status {
	var err error
	if pinger, ok := a.store.(storage.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err = pinger.Ping(ctx)
	}
	a.recordHealth("storage", err == nil)
	if err != nil && a.metricsRegistry != nil {
		a.metricsRegistry.CoreMetrics().RecordError("storage", errors.Classify(err).String())
	}
	return health.FromError("storage", err).WithDetail("backend", a.cfg.Storage.Backend)
}

func (a *app) persistenceHealth(context.Context) health.Status {
	stats := a.persister.Stats()
	status := health.NewHealthy("persistence", "queue accepting writes")
	if stats.QueueDepth >= stats.QueueSize {
		status = health.NewDegraded("persistence", "queue full, finalized streams are being dropped")
	}
	a.recordHealth("persistence", status.IsHealthy())
	return status.
		WithDetail("queue_depth", stats.QueueDepth).
		WithDetail("processed", stats.Processed).
		WithDetail("failed", stats.Failed).
		WithDetail("dropped", stats.Dropped)
}

func (a *app) recordHealth(component string, healthy bool) {
	if a.metricsRegistry == nil {
		return
	}
	a.metricsRegistry.CoreMetrics().RecordHealthStatus(component, healthy)
}
