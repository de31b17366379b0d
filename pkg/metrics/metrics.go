// Package metrics defines the Prometheus collectors used by the indexer and
// the lookup service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	LookupsTotal         *prometheus.CounterVec
	LookupLatency        *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsIngestedTotal    *prometheus.CounterVec
	DocsIndexedTotal     prometheus.Counter
	IndexFlushesTotal    *prometheus.CounterVec
	SegmentBuildsTotal   *prometheus.CounterVec
	SegmentBuildDuration prometheus.Histogram
	TokensWrittenTotal   prometheus.Counter
	TokensSkippedTotal   prometheus.Counter
	OpenSegments         *prometheus.GaugeVec
	ShardDocCount        *prometheus.GaugeVec
	ActiveShards         prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates all metrics and registers them with reg. Tests
// pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forward_lookups_total",
				Help: "Token lookups by kind and result.",
			},
			[]string{"kind", "result"},
		),
		LookupLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forward_lookup_latency_seconds",
				Help:    "Token lookup latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "term_cache_hits_total",
				Help: "Total number of term cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "term_cache_misses_total",
				Help: "Total number of term cache misses.",
			},
		),
		DocsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_ingested_total",
				Help: "Documents received by the ingestion service by result (accepted, rejected, failed).",
			},
			[]string{"result"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		SegmentBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forward_segment_builds_total",
				Help: "Forward index segment builds by status (success, error).",
			},
			[]string{"status"},
		),
		SegmentBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forward_segment_build_duration_seconds",
				Help:    "Wall time of a forward index segment build.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
		),
		TokensWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "forward_tokens_written_total",
				Help: "Tokens written to forward index object stores.",
			},
		),
		TokensSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "forward_tokens_skipped_total",
				Help: "Occurrences skipped because their payload carried no token id.",
			},
		),
		OpenSegments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forward_open_segments",
				Help: "Number of open forward index segments per shard.",
			},
			[]string{"shard_id"},
		),
		ShardDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_document_count",
				Help: "Number of documents per shard.",
			},
			[]string{"shard_id"},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of active index shards.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.LookupsTotal,
		m.LookupLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIngestedTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.SegmentBuildsTotal,
		m.SegmentBuildDuration,
		m.TokensWrittenTotal,
		m.TokensSkippedTotal,
		m.OpenSegments,
		m.ShardDocCount,
		m.ActiveShards,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
