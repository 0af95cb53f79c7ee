package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// CheckFunc reports the current health of one dependency.
type CheckFunc func(ctx context.Context) Status

// Monitor runs a fixed set of named checks and aggregates the results.
type Monitor struct {
	system  string
	started time.Time

	mu     sync.RWMutex
	names  []string
	checks map[string]CheckFunc
}

// NewMonitor creates a monitor reporting as system.
func NewMonitor(system string) *Monitor {
	return &Monitor{
		system:  system,
		started: time.Now(),
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check for name. Checks run in registration order.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checks[name]; !exists {
		m.names = append(m.names, name)
	}
	m.checks[name] = check
}

// Count returns the number of registered checks.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names)
}

// Check runs every registered check and returns the aggregate.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	names := append([]string(nil), m.names...)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = m.checks[name]
	}
	m.mu.RUnlock()

	subs := make([]Status, 0, len(names))
	for i, check := range checks {
		status := check(ctx)
		status.Component = names[i]
		if status.Timestamp.IsZero() {
			status.Timestamp = time.Now()
		}
		subs = append(subs, status)
	}

	return Aggregate(m.system, subs).
		WithDetail("uptime_seconds", int64(time.Since(m.started).Seconds()))
}

// Handler serves the aggregate as JSON. Unhealthy systems answer 503.
func (m *Monitor) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.Debug("Failed to write health response", "error", err)
		}
	})
}
