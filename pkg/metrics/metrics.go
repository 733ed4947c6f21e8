// Package metrics provides the centralized Prometheus registry reference
// for the toolgate service. All metrics are defined in their respective
// packages (client, cache, dedup, ratelimit) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Error Budget Metrics (pkg/ratelimit):
//   - toolgate_errors_remaining (Gauge): Upstream error budget remaining
//   - toolgate_rate_limit_blocks_total (Counter): Requests blocked due to critical budget
//   - toolgate_rate_limit_throttles_total (Counter): Requests throttled due to low budget
//
// Cache Metrics (pkg/cache):
//   - toolgate_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - toolgate_cache_misses_total{layer} (Counter): Cache misses by layer
//   - toolgate_cache_errors_total{operation} (Counter): Cache operation errors
//   - toolgate_cache_failovers_total (Counter): Reads and writes served by the fallback store
//   - toolgate_cache_trips_total (Counter): Primary stores tripped permanently
//
// Deduplication Metrics (pkg/dedup):
//   - toolgate_dedup_pending_operations (Gauge): Distinct operations currently in flight
//   - toolgate_dedup_coalesced_waiters_total (Counter): Callers attached to an existing flight
//   - toolgate_dedup_wait_timeouts_total (Counter): Waiters that gave up before the flight settled
//
// Request Metrics (pkg/client):
//   - toolgate_provider_requests_total{endpoint, status} (Counter): Requests by endpoint and status
//   - toolgate_provider_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - toolgate_provider_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - toolgate_retries_total{error_class} (Counter): Retry attempts by error class
//   - toolgate_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - toolgate_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(toolgate_cache_hits_total[5m])) /
//   (sum(rate(toolgate_cache_hits_total[5m])) + sum(rate(toolgate_cache_misses_total[5m])))
//
//   # Error Budget Status
//   toolgate_errors_remaining < 20
//
//   # Request Error Rate
//   rate(toolgate_provider_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(toolgate_provider_request_duration_seconds_bucket[5m]))
//
//   # Coalescing Effectiveness
//   rate(toolgate_dedup_coalesced_waiters_total[5m]) / rate(toolgate_provider_requests_total[5m])
