package metric

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/plyrelay/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCollectors(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"l"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "gv"}, []string{"l"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"l"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "test_counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "test_gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "test_histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(0.5)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)
	histogramVec.WithLabelValues("a").Observe(1)

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"test_counter", "test_gauge", "test_histogram",
		"test_counter_vec", "test_gauge_vec", "test_histogram_vec",
	} {
		assert.True(t, names[name], "expected %s to be gathered", name)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "c"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "c"})

	require.NoError(t, registry.RegisterCounter("svc", "dup_counter", first))

	err := registry.RegisterCounter("svc", "dup_counter", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same prometheus name under a different service key still conflicts in prometheus.
	err = registry.RegisterCounter("other", "dup_counter", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "g"})
	require.NoError(t, registry.RegisterGauge("svc", "temp_gauge", gauge))
	gauge.Set(1)
	assert.True(t, gatheredNames(t, registry)["temp_gauge"])

	assert.True(t, registry.Unregister("svc", "temp_gauge"))
	assert.False(t, registry.Unregister("svc", "temp_gauge"))
	assert.False(t, gatheredNames(t, registry)["temp_gauge"])

	// Name is free again after unregistering.
	require.NoError(t, registry.RegisterGauge("svc", "temp_gauge", gauge))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", i)
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			errs <- registry.RegisterCounter("svc", name, counter)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordBuildInfo("0.1.0")
	core.RecordError("relay", "send_failed")
	core.RecordHealthStatus("websocket", true)

	names := gatheredNames(t, registry)
	assert.True(t, names["plyrelay_build_info"])
	assert.True(t, names["plyrelay_errors_total"])
	assert.True(t, names["plyrelay_health_status"])
	assert.True(t, names["go_goroutines"], "runtime collectors should be registered")
}

func TestServer_ServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordBuildInfo("test")

	server := NewServer(0, "/metrics", registry, nil)
	require.NoError(t, server.Start())
	defer server.Stop(time.Second)

	err := server.Start()
	require.Error(t, err, "second start should fail")

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)

	buildInfo, ok := families["plyrelay_build_info"]
	require.True(t, ok, "build info should be exported")
	assert.Equal(t, dto.MetricType_GAUGE, buildInfo.GetType())
	require.Len(t, buildInfo.GetMetric(), 1)
	sample := buildInfo.GetMetric()[0]
	assert.Equal(t, 1.0, sample.GetGauge().GetValue())
	require.Len(t, sample.GetLabel(), 1)
	assert.Equal(t, "version", sample.GetLabel()[0].GetName())
	assert.Equal(t, "test", sample.GetLabel()[0].GetValue())

	healthURL := strings.TrimSuffix(server.Address(), "/metrics") + "/health"
	healthResp, err := http.Get(healthURL)
	require.NoError(t, err)
	healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	server := NewServer(0, "", nil, nil)
	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.NoError(t, server.Stop(time.Second))
}
