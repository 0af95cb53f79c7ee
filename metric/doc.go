// Package metric provides the Prometheus registry and HTTP scrape server
// shared by the relay's components.
//
// Components receive a *MetricsRegistry at construction time and register
// their own collectors through the MetricsRegistrar methods. A nil registry
// means metrics are disabled for that component; every component checks for
// this before creating collectors.
//
// Core metrics that belong to no single component (build info, error counts,
// health status) live on the Metrics type:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordBuildInfo(version)
//
//	server := metric.NewServer(9090, "/metrics", registry, logger)
//	if err := server.Start(); err != nil {
//		return err
//	}
//	defer server.Stop(5 * time.Second)
//
// The server also answers GET /health with 200 so scrapers can check liveness
// without parsing the exposition format.
package metric
