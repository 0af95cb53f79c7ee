package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/health"
	"github.com/c360/plyrelay/metric"
	"github.com/c360/plyrelay/relay"
	"github.com/c360/plyrelay/session"
)

// Config holds the WebSocket server settings.
type Config struct {
	Host           string        `json:"host,omitempty" yaml:"host,omitempty"`
	Port           int           `json:"port" yaml:"port"`
	PathPrefix     string        `json:"path_prefix" yaml:"path_prefix"`
	ReadLimit      int64         `json:"read_limit" yaml:"read_limit"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`

	// Upgrade attempts per second across all clients; 0 disables limiting.
	UpgradeRate  float64 `json:"upgrade_rate" yaml:"upgrade_rate"`
	UpgradeBurst int     `json:"upgrade_burst" yaml:"upgrade_burst"`
}

// DefaultConfig returns the server defaults: port 8000, routes under /ws,
// 10 MiB frames, 10s write deadline and a 30s keepalive. Upgrades are not
// rate limited.
func DefaultConfig() Config {
	return Config{
		Port:         8000,
		PathPrefix:   "/ws",
		ReadLimit:    10 << 20,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		UpgradeBurst: 10,
	}
}

// Validate checks the configuration. Port 0 binds an ephemeral port.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig",
			fmt.Sprintf("invalid port %d (out of range 0-65535)", c.Port))
	}
	if !strings.HasPrefix(c.PathPrefix, "/") || strings.HasSuffix(c.PathPrefix, "/") ||
		strings.ContainsAny(c.PathPrefix, "{} ") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig",
			fmt.Sprintf("invalid path prefix %q", c.PathPrefix))
	}
	if c.ReadLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig", "read limit must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig", "write timeout must be positive")
	}
	if c.PingInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig", "ping interval cannot be negative")
	}
	if c.UpgradeRate < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig", "upgrade rate cannot be negative")
	}
	if c.UpgradeRate > 0 && c.UpgradeBurst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "validateConfig",
			"upgrade burst must be at least 1 when upgrade rate is set")
	}
	return nil
}

// upgradeLimiter returns nil when upgrades are unlimited.
func (c Config) upgradeLimiter() *rate.Limiter {
	if c.UpgradeRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.UpgradeRate), c.UpgradeBurst)
}

// Handler serves one upgraded connection until it closes.
type Handler interface {
	Serve(ctx context.Context, conn relay.Conn, role, sessionID string) relay.Route
	OutputSession() string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRegistry enables transport metrics.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.metrics = newServerMetrics(registry)
	}
}

// WithHealthMonitor serves monitor on /healthz and registers the server's
// own check with it.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Server) {
		s.monitor = monitor
	}
}

// Server accepts WebSocket connections on {prefix}/{role}/{dataStream} and
// hands each one to a Handler on its own goroutine.
type Server struct {
	cfg      Config
	handler  Handler
	logger   *slog.Logger
	metrics  *serverMetrics
	monitor  *health.Monitor
	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	running   bool
	startTime time.Time
	shutdown  chan struct{}
	connCtx   context.Context
	connStop  context.CancelFunc
	wg        sync.WaitGroup

	connsMu   sync.Mutex
	conns     map[*Conn]struct{}
	accepting bool
	handlers  sync.WaitGroup
}

// NewServer creates a server for handler. Call Initialize before Start.
func NewServer(cfg Config, handler Handler, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  slog.Default(),
		conns:   make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "websocket")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	s.limiter = cfg.upgradeLimiter()
	return s
}

// Initialize validates the configuration.
func (s *Server) Initialize() error {
	if s.handler == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Server", "Initialize", "connection handler is nil")
	}
	return s.cfg.Validate()
}

// Start binds the listener and serves connections in the background.
// Starting a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled or timed out")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.PathPrefix+"/{role}/{dataStream}", s.handleWebSocket)
	if s.monitor != nil {
		s.monitor.Register("websocket", s.healthCheck)
		mux.Handle("GET /healthz", s.monitor.Handler(s.logger))
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", addr))
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.shutdown = make(chan struct{})
	s.connCtx, s.connStop = context.WithCancel(context.WithoutCancel(ctx))

	s.connsMu.Lock()
	s.accepting = true
	s.connsMu.Unlock()

	s.running = true
	s.startTime = time.Now()

	s.wg.Add(2)
	go s.runServer(s.server, listener)
	go s.keepalive()

	s.logEndpoints()
	return nil
}

// Stop stops accepting connections, closes the open ones with 1001 and waits
// up to timeout for their handlers to finish. Handlers finalize producer
// streams before they return.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	close(s.shutdown)
	s.connStop()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var stopErr error
	if err := server.Shutdown(ctx); err != nil {
		stopErr = errors.WrapTransient(err, "Server", "Stop", "shutdown http server")
	}

	s.connsMu.Lock()
	s.accepting = false
	open := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.connsMu.Unlock()

	for _, c := range open {
		if err := c.Close(session.CloseGoingAway, "server shutting down"); err != nil {
			s.logger.Debug("close on shutdown", "conn_id", c.ID(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("WebSocket server stopped", "closed_connections", len(open))
	case <-ctx.Done():
		s.logger.Warn("WebSocket server stop timed out", "timeout", timeout)
		if stopErr == nil {
			stopErr = errors.WrapTransient(errors.ErrConnectionTimeout, "Server", "Stop",
				fmt.Sprintf("wait for handlers within %s", timeout))
		}
	}
	return stopErr
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// OpenConnections returns the number of upgraded connections being served.
func (s *Server) OpenConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) runServer(server *http.Server, listener net.Listener) {
	defer s.wg.Done()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server failed", "error", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := r.PathValue("role")
	sessionID := r.PathValue("dataStream")

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.rateLimited()
		s.logger.Debug("WebSocket upgrade rate limited", "remote", r.RemoteAddr)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.metrics.upgraded(false)
		s.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.metrics.upgraded(true)

	conn := newConn(ws, s.cfg, s.metrics)
	if !s.track(conn) {
		_ = conn.Close(session.CloseGoingAway, "server shutting down")
		s.metrics.closed()
		return
	}
	defer s.untrack(conn)

	route := s.handler.Serve(s.connContext(), conn, role, sessionID)
	_ = conn.Close(session.CloseNormal, "")

	s.logger.Debug("Connection finished",
		"conn_id", conn.ID(), "route", route.Kind.String(), "session", sessionID, "remote", conn.RemoteAddr())
}

func (s *Server) connContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connCtx
}

func (s *Server) track(c *Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if !s.accepting {
		return false
	}
	s.conns[c] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()

	s.metrics.closed()
	s.handlers.Done()
}

// keepalive pings every open connection each PingInterval and drops the ones
// that stopped answering.
func (s *Server) keepalive() {
	defer s.wg.Done()

	if s.cfg.PingInterval <= 0 {
		return
	}

	s.mu.RLock()
	shutdown := s.shutdown
	s.mu.RUnlock()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case now := <-ticker.C:
			s.pingAll(now)
		}
	}
}

func (s *Server) pingAll(now time.Time) {
	s.connsMu.Lock()
	open := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		open = append(open, c)
	}
	s.connsMu.Unlock()

	for _, c := range open {
		if err := c.ping(now); err != nil {
			s.metrics.pingFailed()
			s.logger.Debug("Dropping unresponsive connection", "conn_id", c.ID(), "error", err)
			_ = c.Close(session.CloseGoingAway, "keepalive timeout")
		}
	}
}

func (s *Server) healthCheck(context.Context) health.Status {
	s.mu.RLock()
	running := s.running
	started := s.startTime
	s.mu.RUnlock()

	if !running {
		return health.NewUnhealthy("websocket", "server not running")
	}
	return health.NewHealthy("websocket", "accepting connections").
		WithDetail("open_connections", s.OpenConnections()).
		WithDetail("uptime_seconds", int64(time.Since(started).Seconds()))
}

func (s *Server) logEndpoints() {
	host := s.cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	base := fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), s.cfg.PathPrefix)

	s.logger.Info("PLY relay listening", "addr", s.listener.Addr().String())
	s.logger.Info("Producer endpoint", "url", base+"/producer/{dataStream}")
	s.logger.Info("Refined producer endpoint", "url", base+"/producer/"+s.handler.OutputSession())
	s.logger.Info("Consumer endpoint", "url", base+"/consumer/{dataStream}")
}

// originChecker allows every origin when allowed is empty, matching the
// relay's open CORS policy. Requests without an Origin header are not from
// browsers and are always accepted.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	if _, ok := set["*"]; ok {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
