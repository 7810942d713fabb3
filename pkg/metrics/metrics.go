// Package metrics holds the process-wide metric registry for the vault
// service. All series live in a private Prometheus registry so tests can
// create isolated instances.
package metrics

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// DurationBuckets are the default histogram buckets for durations in seconds.
var DurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

// LatencyBucketsMs are the histogram buckets for object store latency in
// milliseconds.
var LatencyBucketsMs = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Registry bundles every metric the vault service records.
type Registry struct {
	reg *prometheus.Registry

	// Catalog
	CatalogConnectionErrors prometheus.Counter
	CatalogQueryDuration    prometheus.Histogram

	// Object store
	StoreUploads          prometheus.Counter
	StoreUploadErrors     prometheus.Counter
	StoreDeletes          prometheus.Counter
	StoreDeleteErrors     prometheus.Counter
	StoreDownloadErrors   prometheus.Counter
	StoreConnectionErrors prometheus.Counter
	StoreLatency          prometheus.Histogram
	BreakerOpen           prometheus.Gauge

	// Watcher / ingestion
	FilesProcessed     prometheus.Counter
	FilesFailed        prometheus.Counter
	FilesInProgress    prometheus.Gauge
	ProcessingTimeouts prometheus.Counter
	EventQueueDepth    prometheus.Gauge
	WatcherRestarts    prometheus.Counter

	// API
	APIRequests        prometheus.Counter
	APIRequestErrors   prometheus.Counter
	APIRequestDuration prometheus.Histogram
	AuthFailures       prometheus.Counter
	RateLimitHits      prometheus.Counter

	// Consistency / health
	ConsistencyPendingFiles   prometheus.Gauge
	ConsistencyMissingObjects prometheus.Gauge
	ConsistencyChecks         prometheus.Counter
	ConsistencyErrors         prometheus.Counter
	HealthCheckFailures       prometheus.Counter
	LastHealthCheck           prometheus.Gauge
}

// New creates a Registry with all vault series registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		CatalogConnectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_catalog_connection_errors_total",
			Help: "Total catalog connection errors",
		}),
		CatalogQueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_catalog_query_duration_seconds",
			Help:    "Catalog query duration in seconds",
			Buckets: DurationBuckets,
		}),

		StoreUploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_store_uploads_total",
			Help: "Total object store uploads",
		}),
		StoreUploadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_store_upload_errors_total",
			Help: "Total object store upload errors",
		}),
		StoreDeletes: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_store_deletes_total",
			Help: "Total object store deletes",
		}),
		StoreDeleteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_store_delete_errors_total",
			Help: "Total object store delete errors",
		}),
		StoreDownloadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_store_download_errors_total",
			Help: "Total object store download errors",
		}),
		StoreConnectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_store_connection_errors_total",
			Help: "Total object store connection errors",
		}),
		StoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_store_operation_latency_ms",
			Help:    "Object store operation latency in milliseconds",
			Buckets: LatencyBucketsMs,
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_store_circuit_breaker_open",
			Help: "Object store circuit breaker state (0=closed, 1=open)",
		}),

		FilesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_watcher_files_processed_total",
			Help: "Total files processed by the watcher",
		}),
		FilesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_watcher_files_failed_total",
			Help: "Total files that failed processing",
		}),
		FilesInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_watcher_files_in_progress",
			Help: "Number of files currently being processed",
		}),
		ProcessingTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_watcher_processing_timeouts_total",
			Help: "Total stale in-flight entries evicted",
		}),
		EventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_watcher_event_queue_depth",
			Help: "Number of filesystem events waiting for dispatch",
		}),
		WatcherRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_watcher_restarts_total",
			Help: "Total watcher restarts performed by the supervisor",
		}),

		APIRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_api_requests_total",
			Help: "Total API requests",
		}),
		APIRequestErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_api_request_errors_total",
			Help: "Total API request errors",
		}),
		APIRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: DurationBuckets,
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_api_auth_failures_total",
			Help: "Total API authentication failures",
		}),
		RateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_api_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		}),

		ConsistencyPendingFiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_consistency_pending_files",
			Help: "Number of files pending sync",
		}),
		ConsistencyMissingObjects: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_consistency_missing_objects",
			Help: "Number of catalog rows whose blob is missing from the store",
		}),
		ConsistencyChecks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_consistency_checks_total",
			Help: "Total consistency sweeps performed",
		}),
		ConsistencyErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_consistency_errors_found_total",
			Help: "Total consistency errors found",
		}),
		HealthCheckFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vault_health_check_failures_total",
			Help: "Total health checks with critical failures",
		}),
		LastHealthCheck: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vault_last_health_check_timestamp",
			Help: "Unix timestamp of the last health check",
		}),
	}
}

// Handler returns an http.Handler serving the Prometheus text exposition
// format for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ExportJSON flattens every series into a map suitable for a JSON debugging
// endpoint. Histograms contribute <name>_count and <name>_sum entries plus
// one <name>_bucket{le="..."} entry per bucket.
func (r *Registry) ExportJSON() (map[string]float64, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[mf.GetName()] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[mf.GetName()] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				out[mf.GetName()+"_count"] = float64(h.GetSampleCount())
				out[mf.GetName()+"_sum"] = h.GetSampleSum()
				for _, b := range h.GetBucket() {
					key := fmt.Sprintf("%s_bucket{le=%q}", mf.GetName(), formatBound(b.GetUpperBound()))
					out[key] = float64(b.GetCumulativeCount())
				}
			}
		}
	}
	return out, nil
}

// MetricNames returns the sorted family names, useful for tests.
func (r *Registry) MetricNames() ([]string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	sort.Strings(names)
	return names, nil
}

func formatBound(b float64) string {
	return fmt.Sprintf("%g", b)
}
