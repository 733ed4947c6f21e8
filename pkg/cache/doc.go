// Package cache implements the caching layer that shields the upstream
// data provider from repeated identical requests.
//
// The package is built from small composable stores that all satisfy the
// same Store interface:
//
//   - Memory: an in-memory TTL store with lazy expiry and an eager sweep
//   - Redis: a Redis-backed store with native TTL enforcement
//   - HeaderAware: derives each entry's TTL from response metadata
//     (Cache-Control directives, Expires header) instead of a fixed value
//   - Resilient: routes calls to a primary store and permanently fails
//     over to a fallback after repeated primary errors
//
// # Basic Usage
//
//	store := cache.NewMemory[[]byte](5 * time.Minute)
//
//	key := cache.Key{
//		Namespace: "quotes",
//		Params:    map[string]string{"symbol": "ACME", "depth": "5"},
//	}
//
//	if err := store.Set(ctx, key.String(), payload, 30*time.Second); err != nil {
//		return err
//	}
//
//	value, ok, err := store.Get(ctx, key.String())
//
// # Header-Driven TTLs
//
//	ha := cache.NewHeaderAware[[]byte](store, 5*time.Minute)
//	err := ha.SetFromResponse(ctx, key.String(), payload, cache.ResponseMetadata{
//		Header:    resp.Header,
//		FetchedAt: time.Now(),
//	})
//
// A no-cache or no-store directive bypasses storage entirely, max-age wins
// over the Expires header, and malformed metadata degrades to the default
// TTL instead of failing the write.
//
// # Failover
//
//	primary := cache.NewRedis[[]byte](redisClient, "toolgate:cache:", 5*time.Minute)
//	resilient := cache.NewResilient[[]byte](primary, store, logger)
//
// The resilient wrapper never surfaces a primary error to its caller. After
// five consecutive primary failures it trips and talks only to the fallback
// for the rest of its lifetime.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - toolgate_cache_hits_total{layer} - cache hits by layer
//   - toolgate_cache_misses_total{layer} - cache misses by layer
//   - toolgate_cache_errors_total{operation} - cache operation errors
//   - toolgate_cache_failovers_total - calls served by the fallback store
//   - toolgate_cache_trips_total - permanent primary fail-overs
package cache
