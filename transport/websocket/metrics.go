package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/plyrelay/metric"
)

type serverMetrics struct {
	upgrades     *prometheus.CounterVec
	open         prometheus.Gauge
	bytesSent    prometheus.Counter
	messagesSent prometheus.Counter
	writeErrors  prometheus.Counter
	pingFailures prometheus.Counter
}

func newServerMetrics(registry *metric.MetricsRegistry) *serverMetrics {
	if registry == nil {
		return nil
	}

	m := &serverMetrics{
		upgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "upgrades_total",
			Help:      "WebSocket upgrade attempts, by result",
		}, []string{"result"}),

		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "connections_open",
			Help:      "Upgraded connections not yet closed",
		}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to peers",
		}),

		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Data messages written to peers",
		}),

		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "write_errors_total",
			Help:      "Data message writes that failed",
		}),

		pingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Connections dropped by the keepalive loop",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.upgrades,
		m.open,
		m.bytesSent,
		m.messagesSent,
		m.writeErrors,
		m.pingFailures,
	)

	return m
}

func (m *serverMetrics) upgraded(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.upgrades.WithLabelValues("success").Inc()
		m.open.Inc()
		return
	}
	m.upgrades.WithLabelValues("failure").Inc()
}

func (m *serverMetrics) rateLimited() {
	if m == nil {
		return
	}
	m.upgrades.WithLabelValues("rate_limited").Inc()
}

func (m *serverMetrics) closed() {
	if m == nil {
		return
	}
	m.open.Dec()
}

func (m *serverMetrics) wrote(n int) {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *serverMetrics) writeFailed() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *serverMetrics) pingFailed() {
	if m == nil {
		return
	}
	m.pingFailures.Inc()
}
