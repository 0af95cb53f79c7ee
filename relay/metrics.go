package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/plyrelay/metric"
)

// Metrics holds relay metrics shared by the dispatcher, the connection state
// machines and the finalization path. A nil *Metrics disables collection.
type Metrics struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec
	framesReceived    *prometheus.CounterVec
	chunksSent        prometheus.Counter
	finalized         prometheus.Counter
	persisted         *prometheus.CounterVec
	persistedBytes    prometheus.Counter
}

// NewMetrics creates and registers relay metrics. It returns nil when
// registry is nil.
func NewMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Connections dispatched, by route",
		}, []string{"route"}),

		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "connections_active",
			Help:      "Connections currently being served, by route",
		}, []string{"route"}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Frames received from producers, by kind",
		}, []string{"kind"}),

		chunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "chunks_sent_total",
			Help:      "Binary chunks broadcast to the output session",
		}),

		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "finalized_streams_total",
			Help:      "Producer streams finalized",
		}),

		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "persisted_total",
			Help:      "Persistence jobs by result",
		}, []string{"result"}),

		persistedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "relay",
			Name:      "persisted_bytes_total",
			Help:      "Bytes written to storage",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.connectionsTotal,
		metrics.connectionsActive,
		metrics.framesReceived,
		metrics.chunksSent,
		metrics.finalized,
		metrics.persisted,
		metrics.persistedBytes,
	)

	return metrics
}

func (m *Metrics) connectionOpened(route RouteKind) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(route.String()).Inc()
	if route != RouteRejected {
		m.connectionsActive.WithLabelValues(route.String()).Inc()
	}
}

func (m *Metrics) connectionClosed(route RouteKind) {
	if m == nil || route == RouteRejected {
		return
	}
	m.connectionsActive.WithLabelValues(route.String()).Dec()
}

func (m *Metrics) frameReceived(kind FrameKind) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) streamFinalized(chunks int) {
	if m == nil {
		return
	}
	m.finalized.Inc()
	m.chunksSent.Add(float64(chunks))
}

func (m *Metrics) persistResult(err error, bytes int) {
	if m == nil {
		return
	}
	if err != nil {
		m.persisted.WithLabelValues("error").Inc()
		return
	}
	m.persisted.WithLabelValues("success").Inc()
	m.persistedBytes.Add(float64(bytes))
}

func (m *Metrics) persistDropped() {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues("dropped").Inc()
}
