package objectstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/plyrelay/metric"
)

// storeMetrics holds Prometheus metrics for object store operations.
type storeMetrics struct {
	operations   *prometheus.CounterVec   // By operation and result
	latency      *prometheus.HistogramVec // By operation
	bytesWritten prometheus.Counter
}

// newStoreMetrics creates and registers object store metrics with the provided registry.
func newStoreMetrics(registry *metric.MetricsRegistry, bucket string) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &storeMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "objectstore",
			Name:        "operations_total",
			Help:        "Total number of object store operations",
			ConstLabels: prometheus.Labels{"bucket": bucket},
		}, []string{"operation", "result"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "objectstore",
			Name:        "operation_duration_seconds",
			Help:        "Object store operation duration in seconds",
			ConstLabels: prometheus.Labels{"bucket": bucket},
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"operation"}),

		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "objectstore",
			Name:        "bytes_written_total",
			Help:        "Total bytes written to the bucket",
			ConstLabels: prometheus.Labels{"bucket": bucket},
		}),
	}

	prefix := "objectstore_" + bucket
	if err := registry.RegisterCounterVec(prefix, "operations", m.operations); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(prefix, "latency", m.latency); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "bytes_written", m.bytesWritten); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *storeMetrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *storeMetrics) wrote(n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}
