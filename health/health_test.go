package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	assert.True(t, NewHealthy("a", "").IsHealthy())
	assert.True(t, NewHealthy("a", "").Healthy)
	assert.True(t, NewDegraded("a", "").IsDegraded())
	assert.False(t, NewDegraded("a", "").Healthy)
	assert.True(t, NewUnhealthy("a", "").IsUnhealthy())
	assert.False(t, Status{}.IsHealthy())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		subs  []Status
		state string
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("sys", tt.subs)
			assert.Equal(t, tt.state, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	got := Aggregate("sys", subs)
	got.SubStatuses[0].Message = "changed"
	assert.Empty(t, subs[0].Message)
}

func TestWithDetail_CopiesMap(t *testing.T) {
	base := NewHealthy("a", "").WithDetail("x", 1)
	derived := base.WithDetail("y", 2)

	assert.Len(t, base.Details, 1)
	assert.Equal(t, 2, derived.Details["y"])
	assert.Equal(t, 1, derived.Details["x"])
}

func TestWithSubStatus_SliceIsolation(t *testing.T) {
	base := NewHealthy("root", "").WithSubStatus(NewHealthy("a", ""))
	left := base.WithSubStatus(NewHealthy("left", ""))
	right := base.WithSubStatus(NewHealthy("right", ""))

	assert.Equal(t, "left", left.SubStatuses[1].Component)
	assert.Equal(t, "right", right.SubStatuses[1].Component)
	assert.Len(t, base.SubStatuses, 1)
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("store", nil).IsHealthy())

	got := FromError("store", errors.New("dial nats://10.0.0.5:4222 failed: password=hunter2"))
	assert.True(t, got.IsUnhealthy())
	assert.NotContains(t, got.Message, "10.0.0.5")
	assert.NotContains(t, got.Message, "hunter2")
	assert.Contains(t, got.Message, "[URL]")
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", ""},
		{"failed to open /var/lib/plyrelay/files/a.ply", "failed to open [PATH]"},
		{"cannot read C:\\data\\a.ply", "cannot read [PATH]"},
		{"connect to ws://relay.example.com/ws/producer/x", "connect to [URL]"},
		{"peer 192.168.1.20 reset", "peer [IP] reset"},
		{"token=abc123 rejected", "[REDACTED] rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestMonitor_CheckOrderAndNames(t *testing.T) {
	m := NewMonitor("plyrelay")
	m.Register("sessions", func(context.Context) Status { return NewHealthy("ignored", "ok") })
	m.Register("storage", func(context.Context) Status { return NewDegraded("", "slow") })
	m.Register("sessions", func(context.Context) Status { return NewHealthy("", "replaced") })

	got := m.Check(context.Background())

	require.Len(t, got.SubStatuses, 2)
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, "sessions", got.SubStatuses[0].Component)
	assert.Equal(t, "replaced", got.SubStatuses[0].Message)
	assert.Equal(t, "storage", got.SubStatuses[1].Component)
	assert.True(t, got.IsDegraded())
	assert.Contains(t, got.Details, "uptime_seconds")
}

func TestMonitor_ConcurrentRegisterAndCheck(t *testing.T) {
	m := NewMonitor("plyrelay")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Register(string(rune('a'+i)), func(context.Context) Status { return NewHealthy("", "") })
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Check(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, m.Count())
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("plyrelay")
	healthy := true
	m.Register("storage", func(context.Context) Status {
		if healthy {
			return NewHealthy("", "ok")
		}
		return NewUnhealthy("", "down")
	})
	h := m.Handler(nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "plyrelay", body.Component)
	assert.True(t, body.Healthy)

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
