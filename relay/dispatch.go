package relay

import (
	"context"
	"log/slog"

	"github.com/c360/plyrelay/session"
)

// Roles accepted in the connection path.
const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
)

// RouteKind is the closed set of ways a connection can be served.
type RouteKind int

const (
	RouteRejected RouteKind = iota
	RouteProducerDefault
	RouteProducerRefined
	RouteConsumer
)

// String returns the route label used in logs and metrics.
func (k RouteKind) String() string {
	switch k {
	case RouteProducerDefault:
		return "producer_default"
	case RouteProducerRefined:
		return "producer_refined"
	case RouteConsumer:
		return "consumer"
	default:
		return "rejected"
	}
}

// Route is the dispatch decision for one connection.
type Route struct {
	Kind    RouteKind
	Role    string
	Session string
}

// Classify picks the route for a (role, session) pair. outputSession is the
// reserved session that refined producers write to.
func Classify(role, sessionID, outputSession string) Route {
	route := Route{Kind: RouteRejected, Role: role, Session: sessionID}
	switch role {
	case RoleConsumer:
		route.Kind = RouteConsumer
	case RoleProducer:
		if sessionID == outputSession {
			route.Kind = RouteProducerRefined
		} else {
			route.Kind = RouteProducerDefault
		}
	}
	return route
}

// Dispatcher serves accepted connections by running the state machine their
// route selects.
type Dispatcher struct {
	registry  *session.Registry
	finalizer *Finalizer
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
}

// NewDispatcher creates a dispatcher. persister may be nil to disable
// persistence.
func NewDispatcher(cfg Config, registry *session.Registry, persister Persister,
	logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")
	return &Dispatcher{
		registry:  registry,
		finalizer: NewFinalizer(registry, persister, cfg, logger, metrics),
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// OutputSession returns the reserved output session id.
func (d *Dispatcher) OutputSession() string {
	return d.cfg.OutputSession
}

// Serve handles conn until it closes. A rejected route closes the connection
// with a policy violation and touches no registry state.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn, role, sessionID string) Route {
	route := Classify(role, sessionID, d.cfg.OutputSession)

	d.metrics.connectionOpened(route.Kind)
	defer d.metrics.connectionClosed(route.Kind)

	switch route.Kind {
	case RouteConsumer:
		NewConsumerRelay(conn, sessionID, d.registry, d.logger).Run(ctx)
	case RouteProducerRefined:
		NewIngestor(conn, sessionID, ModeRefined, d.registry, d.finalizer, d.logger, d.metrics).Run(ctx)
	case RouteProducerDefault:
		NewIngestor(conn, sessionID, ModeDefault, d.registry, d.finalizer, d.logger, d.metrics).Run(ctx)
	default:
		d.logger.Warn("connection rejected", "role", role, "session", sessionID, "conn_id", conn.ID())
		if err := conn.Close(session.ClosePolicyViolation, "unknown role"); err != nil {
			d.logger.Debug("close rejected connection", "conn_id", conn.ID(), "error", err)
		}
	}
	return route
}
