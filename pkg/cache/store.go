package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the contract shared by every cache variant in this package.
//
// Every operation takes a context and returns an error even for purely
// in-memory implementations, so a distributed backing store can be
// substituted without changing call sites.
//
// Implementations must be safe for concurrent use.
type Store[V any] interface {
	// Get retrieves a value. Returns (zero, false, nil) on miss.
	// An expired entry behaves as a miss and is removed as a side effect
	// of being observed.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set stores a value with the given TTL. A TTL <= 0 means "do not
	// cache" and the call is a no-op.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Has reports whether an unexpired entry exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes an entry. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// Stats describes the current shape of a store.
type Stats struct {
	// Size is the number of entries currently held, including entries
	// past their expiry that have not been observed yet.
	Size int `json:"size"`

	// DefaultTTL is the store's configured default TTL.
	DefaultTTL time.Duration `json:"default_ttl"`
}

// StatsProvider is an optional capability for stores that can report
// statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Destroyer is an optional capability for stores that hold state worth
// tearing down. Destroy must be safe to call multiple times.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Sweeper is an optional capability for stores that support eager
// reclamation of expired entries in addition to lazy read-time eviction.
type Sweeper interface {
	// Cleanup removes all entries past their expiry and returns the
	// number of entries removed.
	Cleanup(ctx context.Context) (int, error)
}

// StatsOf returns the store's statistics when it exposes them, or a zero
// Stats value otherwise. This keeps call sites free of capability checks.
func StatsOf[V any](ctx context.Context, s Store[V]) (Stats, error) {
	if sp, ok := s.(StatsProvider); ok {
		return sp.Stats(ctx)
	}
	return Stats{}, nil
}

// DestroyStore tears the store down when it supports teardown and is a
// no-op otherwise.
func DestroyStore[V any](ctx context.Context, s Store[V]) error {
	if d, ok := s.(Destroyer); ok {
		return d.Destroy(ctx)
	}
	return nil
}
