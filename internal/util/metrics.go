package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReportsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reports_generated_total",
		Help: "Total number of reports computed from the warehouse",
	}, []string{"kind"})

	ReportsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reports_failed_total",
		Help: "Total number of failed report computations",
	}, []string{"kind", "reason"})

	ReportRowsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_rows_skipped_total",
		Help: "Total number of input rows rejected by validation",
	}, []string{"kind"})

	ReportDegenerateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_degenerate_total",
		Help: "Total number of ABC reports whose metric summed to zero",
	}, []string{"kind"})

	ReportCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_hits_total",
		Help: "Total number of reports served from cache",
	}, []string{"kind"})

	ReportCacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_misses_total",
		Help: "Total number of report cache misses",
	}, []string{"kind"})

	ReportComputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_compute_latency_seconds",
		Help:    "Latency of report computation including warehouse fetch",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	WarehouseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warehouse_query_latency_seconds",
		Help:    "Latency of warehouse queries",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"query"})

	ReportRequestsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_requests_consumed_total",
		Help: "Total number of report refresh requests consumed from Kafka",
	}, []string{"kind", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
