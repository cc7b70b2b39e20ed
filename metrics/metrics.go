package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code", "service"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "service"},
	)

	// Cache pipeline metrics
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_cache_lookups_total",
			Help: "Product cache lookups by outcome",
		},
		[]string{"result"}, // fresh, stale, miss
	)

	CoalescedFetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "product_coalesced_fetches_total",
			Help: "Callers that joined an already in-flight fetch",
		},
	)

	StaleServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_stale_served_total",
			Help: "Stale records served instead of a failed refresh",
		},
		[]string{"reason"}, // rate_limited, unavailable, no_match
	)

	RefreshedProductsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_refreshes_total",
			Help: "Per-key refresh outcomes in bulk refresh runs",
		},
		[]string{"status"}, // succeeded, failed
	)

	// Upstream API metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Upstream product API requests",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamBudgetRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_budget_remaining",
			Help: "Last remaining request quota reported by the upstream API",
		},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_rate_limited_total",
			Help: "Upstream calls skipped or refused due to the rate budget",
		},
	)

	DroppedItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_dropped_items_total",
			Help: "Upstream result items dropped by schema validation",
		},
	)

	// Database metrics
	MongoOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_operations_total",
			Help: "Total number of MongoDB operations",
		},
		[]string{"operation", "status"},
	)

	// NATS metrics
	NatsMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject", "status"},
	)

	// Application health metrics
	ApplicationInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "application_info",
			Help: "Application information",
		},
		[]string{"service", "version", "environment"},
	)
)

// Init sets application info with default values.
func Init(serviceName, version, environment string) {
	ApplicationInfo.WithLabelValues(serviceName, version, environment).Set(1)
}
