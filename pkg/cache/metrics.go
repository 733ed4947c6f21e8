package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store layer labels.
const (
	layerMemory = "memory"
	layerRedis  = "redis"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_cache_hits_total",
			Help: "Total number of cache hits by layer",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_cache_misses_total",
			Help: "Total number of cache misses by layer",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "clear"
	)

	// CacheFailovers tracks calls the resilient wrapper served from the
	// fallback store after a primary failure.
	CacheFailovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_cache_failovers_total",
			Help: "Total number of cache calls served by the fallback store",
		},
	)

	// CacheTrips counts resilient wrappers that permanently disabled
	// their primary store.
	CacheTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_cache_trips_total",
			Help: "Total number of permanent primary-store fail-overs",
		},
	)
)
