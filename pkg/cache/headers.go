package cache

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ResponseMetadata carries the response headers and fetch timestamp used
// to derive an entry's TTL at store time. It is consumed once by
// SetFromResponse and never mutated afterward.
type ResponseMetadata struct {
	// Header holds the upstream response headers. Lookup is
	// case-insensitive per net/http canonicalization.
	Header http.Header

	// FetchedAt is when the response was received. Required to derive a
	// TTL from the Expires header.
	FetchedAt time.Time
}

// HeaderAware wraps a Store and derives each entry's TTL from response
// metadata instead of a fixed duration.
//
// TTL derivation priority:
//
//  1. a no-cache or no-store directive anywhere in Cache-Control: TTL 0,
//     nothing is stored
//  2. max-age=N: N seconds, clamped at 0 (non-positive values store nothing)
//  3. Expires header combined with the recorded fetch time
//  4. the configured default TTL
//
// Malformed directives or an unparsable Expires value never fail the
// write; they fall through to the next rule.
type HeaderAware[V any] struct {
	inner      Store[V]
	defaultTTL time.Duration
}

// NewHeaderAware wraps inner with header-driven TTL derivation.
func NewHeaderAware[V any](inner Store[V], defaultTTL time.Duration) *HeaderAware[V] {
	if inner == nil {
		panic("inner store cannot be nil")
	}
	return &HeaderAware[V]{
		inner:      inner,
		defaultTTL: defaultTTL,
	}
}

// SetFromResponse stores value under key with a TTL derived from meta.
// When the derived TTL is zero the write is a no-op.
func (h *HeaderAware[V]) SetFromResponse(ctx context.Context, key string, value V, meta ResponseMetadata) error {
	return h.inner.Set(ctx, key, value, ComputeTTL(meta, h.defaultTTL))
}

// Get delegates to the wrapped store.
func (h *HeaderAware[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return h.inner.Get(ctx, key)
}

// Set stores a value with an explicit TTL, bypassing header derivation.
func (h *HeaderAware[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	return h.inner.Set(ctx, key, value, ttl)
}

// Has delegates to the wrapped store.
func (h *HeaderAware[V]) Has(ctx context.Context, key string) (bool, error) {
	return h.inner.Has(ctx, key)
}

// Delete delegates to the wrapped store.
func (h *HeaderAware[V]) Delete(ctx context.Context, key string) error {
	return h.inner.Delete(ctx, key)
}

// Clear delegates to the wrapped store.
func (h *HeaderAware[V]) Clear(ctx context.Context) error {
	return h.inner.Clear(ctx)
}

// Cleanup sweeps the wrapped store when it supports eager reclamation.
func (h *HeaderAware[V]) Cleanup(ctx context.Context) (int, error) {
	if s, ok := h.inner.(Sweeper); ok {
		return s.Cleanup(ctx)
	}
	return 0, nil
}

// Stats reports the wrapped store's statistics with this wrapper's
// default TTL.
func (h *HeaderAware[V]) Stats(ctx context.Context) (Stats, error) {
	stats, err := StatsOf(ctx, h.inner)
	if err != nil {
		return Stats{}, err
	}
	stats.DefaultTTL = h.defaultTTL
	return stats, nil
}

// Destroy tears down the wrapped store.
func (h *HeaderAware[V]) Destroy(ctx context.Context) error {
	return DestroyStore(ctx, h.inner)
}

// ComputeTTL derives the effective TTL from response metadata, falling
// back to defaultTTL when the metadata carries no usable caching
// information.
func ComputeTTL(meta ResponseMetadata, defaultTTL time.Duration) time.Duration {
	if maxAge, noStore, ok := parseCacheControl(meta.Header.Get("Cache-Control")); ok {
		if noStore {
			return 0
		}
		if maxAge <= 0 {
			return 0
		}
		return time.Duration(maxAge) * time.Second
	}

	if ttl, ok := ttlFromExpires(meta); ok {
		return ttl
	}

	return defaultTTL
}

// parseCacheControl extracts the caching decision from a Cache-Control
// header value. ok is false when the value carries neither a bypass
// directive nor a parsable max-age.
func parseCacheControl(value string) (maxAge int, noStore bool, ok bool) {
	if value == "" {
		return 0, false, false
	}

	foundMaxAge := false
	for _, directive := range strings.Split(value, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))

		if directive == "no-cache" || directive == "no-store" {
			return 0, true, true
		}

		if rest, found := strings.CutPrefix(directive, "max-age="); found {
			seconds, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				// Malformed max-age is ignored, never an error.
				continue
			}
			maxAge = seconds
			foundMaxAge = true
		}
	}

	return maxAge, false, foundMaxAge
}

// ttlFromExpires derives a TTL from the Expires header and the recorded
// fetch time. ok is false when either is missing or the timestamp cannot
// be parsed.
func ttlFromExpires(meta ResponseMetadata) (time.Duration, bool) {
	expiresStr := meta.Header.Get("Expires")
	if expiresStr == "" || meta.FetchedAt.IsZero() {
		return 0, false
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		// Unparsable Expires falls through to the default TTL.
		return 0, false
	}

	ttl := expires.Sub(meta.FetchedAt)
	if ttl < 0 {
		ttl = 0
	}
	return ttl, true
}

var (
	_ Store[any]    = (*HeaderAware[any])(nil)
	_ StatsProvider = (*HeaderAware[any])(nil)
	_ Destroyer     = (*HeaderAware[any])(nil)
	_ Sweeper       = (*HeaderAware[any])(nil)
)
