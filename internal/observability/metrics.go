package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_request_duration_seconds",
			Help:    "Search request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.5, 1, 2.5},
		},
		[]string{"intent", "source", "status"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"intent", "status"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total number of Redis cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total number of Redis cache misses",
		},
	)

	ESQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "es_query_duration_seconds",
			Help:    "Elasticsearch query duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.5, 1},
		},
		[]string{"operation", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_store_query_duration_seconds",
			Help:    "Durable catalog store query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation", "status"},
	)

	TrendingQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trending_store_query_duration_seconds",
			Help:    "Trending aggregate store query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation", "status"},
	)

	TrendingIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trending_increments_total",
			Help: "Total number of trending counter increments",
		},
		[]string{"region"},
	)

	MissLedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miss_ledger_writes_total",
			Help: "Total number of miss ledger writes",
		},
		[]string{"kind", "status"},
	)

	FallbackCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_fallback_total",
			Help: "Total number of fallback stage executions",
		},
		[]string{"stage"},
	)

	DetachedTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detached_tasks_total",
			Help: "Total number of detached side-effect tasks",
		},
		[]string{"name", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowQueryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_query_total",
			Help: "Total number of slow queries",
		},
		[]string{"severity", "intent"},
	)

	IndexingLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexing_lag_seconds",
			Help: "Current indexing pipeline lag in seconds",
		},
	)

	IndexingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexing_events_total",
			Help: "Total number of indexing events processed",
		},
		[]string{"operation", "status"},
	)
)
