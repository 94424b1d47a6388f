// Package metrics exposes Prometheus instrumentation for the fetch
// pipeline. Collectors are registered on the default registry at import
// time and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts fetches answered from the response cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrapigen_cache_hits_total",
		Help: "Fetches served from the response cache.",
	})

	// CacheMisses counts fetches that had to execute.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrapigen_cache_misses_total",
		Help: "Fetches not present in the response cache.",
	})

	// FetchesTotal counts completed fetches by final method and result.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapigen_fetches_total",
		Help: "Completed fetch operations by method and result.",
	}, []string{"method", "result"})

	// AttemptsTotal counts individual attempts by strategy and outcome,
	// including the retried and escalated ones.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapigen_attempts_total",
		Help: "Individual fetch attempts by strategy and classified outcome.",
	}, []string{"strategy", "outcome"})

	// EscalationsTotal counts strategy escalations by trigger.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapigen_escalations_total",
		Help: "Strategy escalations by triggering outcome.",
	}, []string{"trigger"})

	// FetchDuration observes end-to-end fetch latency by method.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrapigen_fetch_duration_seconds",
		Help:    "End-to-end fetch latency by final method.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"method"})

	// PoolLiveSessions tracks browser sessions currently alive.
	PoolLiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrapigen_pool_live_sessions",
		Help: "Browser sessions currently alive in the pool.",
	})

	// PoolActiveSessions tracks sessions checked out for a render.
	PoolActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrapigen_pool_active_sessions",
		Help: "Browser sessions currently executing a render.",
	})

	// CacheEntries tracks live response cache entries.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrapigen_cache_entries",
		Help: "Entries currently held in the response cache.",
	})
)
