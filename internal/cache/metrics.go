package cache

import "github.com/prometheus/client_golang/prometheus"

// Counters are labeled by key class (the segment before the first colon:
// "roadmap", "progress", "analytics", ...) which keeps cardinality bounded
// while still separating the hot projections in dashboards.
var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_cache_hits_total",
			Help: "Cache reads served from an unexpired entry.",
		},
		[]string{"class"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_cache_misses_total",
			Help: "Cache reads that triggered a recomputation.",
		},
		[]string{"class"},
	)

	coalescedWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_cache_coalesced_waits_total",
			Help: "Callers that attached to an already in-flight computation.",
		},
		[]string{"class"},
	)

	lockRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadmap_cache_lock_retries_total",
			Help: "Backoff rounds spent waiting for the advisory lock.",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, coalescedWaits, lockRetries)
}
