package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/metric"
)

type side int

const (
	producerSide side = iota
	consumerSide
)

func (s side) String() string {
	if s == producerSide {
		return "producer"
	}
	return "consumer"
}

// entry is the membership of one session. removed is set once the entry has
// been dropped from the registry map; a registration that observes it retries
// against a fresh entry.
type entry struct {
	mu        sync.Mutex
	producers map[Conn]struct{}
	consumers map[Conn]struct{}
	removed   bool
}

func newEntry() *entry {
	return &entry{
		producers: make(map[Conn]struct{}),
		consumers: make(map[Conn]struct{}),
	}
}

func (e *entry) set(s side) map[Conn]struct{} {
	if s == producerSide {
		return e.producers
	}
	return e.consumers
}

func (e *entry) empty() bool {
	return len(e.producers) == 0 && len(e.consumers) == 0
}

// SendResult is the outcome of delivering one payload to one consumer.
type SendResult struct {
	ConnID string
	Err    error

	conn Conn
}

// Report describes a finished broadcast.
type Report struct {
	Session string
	Kind    PayloadKind
	Results []SendResult
}

// Failed returns the results whose send returned an error.
func (r Report) Failed() []SendResult {
	var failed []SendResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Delivered returns the number of consumers that accepted the payload.
func (r Report) Delivered() int {
	return len(r.Results) - len(r.Failed())
}

// Stats is a point-in-time view of registry membership.
type Stats struct {
	Sessions  int `json:"sessions"`
	Producers int `json:"producers"`
	Consumers int `json:"consumers"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for broadcast failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetricsRegistry enables registry metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(r *Registry) {
		r.metrics = newMetrics(registry)
	}
}

// WithSendLimit caps the number of concurrent sends within one broadcast.
// Zero or a negative limit leaves fan-out unbounded.
func WithSendLimit(limit int) Option {
	return func(r *Registry) {
		r.sendLimit = limit
	}
}

// Registry maps session identifiers to the producers and consumers connected
// under them. Locks are held only for bookkeeping, never across a send.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	logger    *slog.Logger
	metrics   *Metrics
	sendLimit int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*entry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session-registry")
	return r
}

// ConnectProducer registers conn as a producer of session.
func (r *Registry) ConnectProducer(session string, conn Conn) {
	r.connect(session, conn, producerSide)
}

// ConnectConsumer registers conn as a consumer of session.
func (r *Registry) ConnectConsumer(session string, conn Conn) {
	r.connect(session, conn, consumerSide)
}

// DisconnectProducer removes conn from the producers of session. Removing a
// connection that is not registered does nothing.
func (r *Registry) DisconnectProducer(session string, conn Conn) {
	r.disconnect(session, conn, producerSide)
}

// DisconnectConsumer removes conn from the consumers of session. Removing a
// connection that is not registered does nothing.
func (r *Registry) DisconnectConsumer(session string, conn Conn) {
	r.disconnect(session, conn, consumerSide)
}

func (r *Registry) connect(session string, conn Conn, s side) {
	for {
		e := r.getOrCreate(session)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		e.set(s)[conn] = struct{}{}
		e.mu.Unlock()

		r.logger.Debug("connection registered", "session", session, "conn_id", conn.ID(), "role", s.String())
		return
	}
}

func (r *Registry) getOrCreate(session string) *entry {
	r.mu.RLock()
	e, ok := r.sessions[session]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[session]; ok {
		return e
	}
	e = newEntry()
	r.sessions[session] = e
	r.metrics.sessionCreated()
	return e
}

func (r *Registry) lookup(session string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[session]
}

func (r *Registry) disconnect(session string, conn Conn, s side) bool {
	e := r.lookup(session)
	if e == nil {
		return false
	}

	e.mu.Lock()
	set := e.set(s)
	if _, ok := set[conn]; !ok {
		e.mu.Unlock()
		return false
	}
	delete(set, conn)
	empty := e.empty()
	e.mu.Unlock()

	r.logger.Debug("connection unregistered", "session", session, "conn_id", conn.ID(), "role", s.String())

	if empty {
		r.removeIfEmpty(session, e)
	}
	return true
}

// removeIfEmpty drops the session key when its entry is still the current one
// and still has no members. Lock order is r.mu then e.mu.
func (r *Registry) removeIfEmpty(session string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[session] != e {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed || !e.empty() {
		return
	}
	e.removed = true
	delete(r.sessions, session)
	r.metrics.sessionRemoved()
}

// Consumers returns a snapshot of the consumers registered under session.
func (r *Registry) Consumers(session string) []Conn {
	e := r.lookup(session)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	conns := make([]Conn, 0, len(e.consumers))
	for c := range e.consumers {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast delivers payload to every consumer registered under session at
// the moment of the call. Send failures are logged and the failing consumers
// are evicted; nothing is returned to the caller.
func (r *Registry) Broadcast(ctx context.Context, session string, payload Payload) {
	r.BroadcastReport(ctx, session, payload)
}

// BroadcastReport is Broadcast with the per-consumer outcome returned.
//
// Sends run concurrently but the call waits for all of them, so successive
// broadcasts from one goroutine reach each consumer in order.
func (r *Registry) BroadcastReport(ctx context.Context, session string, payload Payload) Report {
	report := Report{Session: session, Kind: payload.Kind}

	consumers := r.Consumers(session)
	if len(consumers) == 0 {
		return report
	}

	start := time.Now()
	report.Results = make([]SendResult, len(consumers))

	if len(consumers) == 1 {
		report.Results[0] = send(ctx, consumers[0], payload)
	} else {
		// Send errors stay in the results; the group never cancels siblings.
		var g errgroup.Group
		if r.sendLimit > 0 {
			g.SetLimit(r.sendLimit)
		}
		for i, conn := range consumers {
			g.Go(func() error {
				report.Results[i] = send(ctx, conn, payload)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.metrics.recordBroadcast(report, time.Since(start).Seconds())

	gone, failed := splitFailures(report.Failed())
	for _, res := range gone {
		r.disconnect(session, res.conn, consumerSide)
	}
	if len(failed) > 0 {
		r.evict(session, failed)
		r.logFailures(report, failed)
	}

	return report
}

// splitFailures separates consumers that were already closed from real send
// faults. Closed consumers are dropped quietly; their handler owns the close.
func splitFailures(results []SendResult) (gone, failed []SendResult) {
	for _, res := range results {
		if errors.Is(res.Err, ErrConnClosed) {
			gone = append(gone, res)
			continue
		}
		failed = append(failed, res)
	}
	return gone, failed
}

func send(ctx context.Context, conn Conn, payload Payload) SendResult {
	return SendResult{
		ConnID: conn.ID(),
		Err:    payload.sendTo(ctx, conn),
		conn:   conn,
	}
}

func (r *Registry) evict(session string, failed []SendResult) {
	for _, res := range failed {
		// A concurrent broadcast may already have evicted it.
		if !r.disconnect(session, res.conn, consumerSide) {
			continue
		}
		r.metrics.recordEviction()
		if err := res.conn.Close(CloseInternalError, "send failed"); err != nil {
			r.logger.Debug("close after failed send", "session", session, "conn_id", res.ConnID, "error", err)
		}
	}
}

func (r *Registry) logFailures(report Report, failed []SendResult) {
	ids := make([]string, len(failed))
	for i, res := range failed {
		ids[i] = res.ConnID
	}
	r.logger.Warn("broadcast send failures",
		"session", report.Session,
		"kind", report.Kind.String(),
		"failed", len(failed),
		"attempted", len(report.Results),
		"conn_ids", ids,
		"error", failed[0].Err)
}

// Counts returns the number of producers and consumers registered under session.
func (r *Registry) Counts(session string) (producers, consumers int) {
	e := r.lookup(session)
	if e == nil {
		return 0, 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.producers), len(e.consumers)
}

// Stats returns membership totals across all sessions.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Sessions: len(r.sessions)}
	for _, e := range r.sessions {
		e.mu.Lock()
		stats.Producers += len(e.producers)
		stats.Consumers += len(e.consumers)
		e.mu.Unlock()
	}
	return stats
}

// Close drops every session. Connections are not closed; they belong to the
// handlers that accepted them, and later disconnects are no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.sessions {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	r.sessions = make(map[string]*entry)
	r.metrics.sessionsCleared()
}
