package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry *prometheus.Registry

var (
	// RequestsTotal counts served HTTP requests by method, route and status code
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes HTTP request latency by method and route
	RequestDuration *prometheus.HistogramVec

	// CacheHitsTotal counts report cache hits
	CacheHitsTotal prometheus.Counter

	// CacheMissesTotal counts report cache misses that started a new upstream fetch
	CacheMissesTotal prometheus.Counter

	// CacheCoalescedTotal counts report cache misses that attached to an already running fetch
	CacheCoalescedTotal prometheus.Counter

	// UpstreamRequestsTotal counts parsing engine calls by result
	UpstreamRequestsTotal *prometheus.CounterVec

	// QuotaRejectionsTotal counts requests rejected by the quota ledger
	QuotaRejectionsTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_server_http_requests_total",
		Help: "Total number of served HTTP requests",
	}, []string{"method", "route", "status"})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "report_server_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_server_cache_hits_total",
		Help: "Total number of report cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_server_cache_misses_total",
		Help: "Total number of report cache misses that started an upstream fetch",
	})
	CacheCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_server_cache_coalesced_total",
		Help: "Total number of report cache misses that joined an in-flight fetch",
	})
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_server_upstream_requests_total",
		Help: "Total number of parsing engine calls",
	}, []string{"result"})
	QuotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_server_quota_rejections_total",
		Help: "Total number of requests rejected by the quota ledger",
	})

	registry.MustRegister(
		RequestsTotal,
		RequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheCoalescedTotal,
		UpstreamRequestsTotal,
		QuotaRejectionsTotal,
	)
}

// Handler returns the HTTP handler exposing the metrics registry
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
