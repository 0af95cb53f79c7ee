package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/plyrelay/metric"
)

// Metrics holds registry metrics. A nil *Metrics disables collection.
type Metrics struct {
	sessionsActive    prometheus.Gauge
	broadcastSends    *prometheus.CounterVec
	broadcastDuration *prometheus.HistogramVec
	evictions         prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "sessions_active",
			Help:      "Number of sessions with at least one registered connection",
		}),

		broadcastSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "broadcast_sends_total",
			Help:      "Per-consumer send attempts made by broadcasts",
		}, []string{"result"}),

		broadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to deliver one payload to every consumer of a session",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"kind"}),

		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "session",
			Name:      "evictions_total",
			Help:      "Consumers removed after a failed send",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.sessionsActive,
		metrics.broadcastSends,
		metrics.broadcastDuration,
		metrics.evictions,
	)

	return metrics
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionRemoved() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) sessionsCleared() {
	if m == nil {
		return
	}
	m.sessionsActive.Set(0)
}

func (m *Metrics) recordBroadcast(report Report, seconds float64) {
	if m == nil {
		return
	}
	failed := len(report.Failed())
	m.broadcastSends.WithLabelValues("success").Add(float64(len(report.Results) - failed))
	m.broadcastSends.WithLabelValues("failure").Add(float64(failed))
	m.broadcastDuration.WithLabelValues(report.Kind.String()).Observe(seconds)
}

func (m *Metrics) recordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}
