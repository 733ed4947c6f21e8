package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MaxConsecutiveFailures is the number of consecutive primary failures
// after which a Resilient wrapper permanently fails over to its fallback.
const MaxConsecutiveFailures = 5

// Resilient composes a primary and a fallback store behind one Store
// interface. While healthy, every call goes to the primary; a primary
// error is logged, counted and retried against the fallback, and the
// fallback's outcome is what the caller sees. The wrapper never surfaces
// a primary error.
//
// Once MaxConsecutiveFailures primary errors accumulate without an
// intervening success, the wrapper trips and talks only to the fallback
// for the rest of its lifetime. The latch is one-way: there is no decay
// and no half-open probing.
type Resilient[V any] struct {
	primary  Store[V]
	fallback Store[V]
	logger   zerolog.Logger

	mu       sync.Mutex
	failures int
	tripped  bool
}

// NewResilient wraps primary and fallback. The logger is a collaborator
// owned by the caller.
func NewResilient[V any](primary, fallback Store[V], logger zerolog.Logger) *Resilient[V] {
	if primary == nil || fallback == nil {
		panic("primary and fallback stores cannot be nil")
	}
	return &Resilient[V]{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "resilient-cache").Logger(),
	}
}

// Tripped reports whether the wrapper has permanently failed over.
func (r *Resilient[V]) Tripped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tripped
}

// usePrimary reports whether calls should still attempt the primary.
func (r *Resilient[V]) usePrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.tripped
}

// recordSuccess resets the consecutive-failure counter. A tripped wrapper
// stays tripped.
func (r *Resilient[V]) recordSuccess() {
	r.mu.Lock()
	if !r.tripped {
		r.failures = 0
	}
	r.mu.Unlock()
}

// recordFailure logs the primary error, bumps the consecutive-failure
// counter and trips the latch at the threshold.
func (r *Resilient[V]) recordFailure(op string, err error) {
	CacheFailovers.Inc()

	r.mu.Lock()
	r.failures++
	failures := r.failures
	justTripped := false
	if !r.tripped && r.failures >= MaxConsecutiveFailures {
		r.tripped = true
		justTripped = true
	}
	r.mu.Unlock()

	r.logger.Warn().
		Err(err).
		Str("operation", op).
		Int("consecutive_failures", failures).
		Msg("Primary cache error, serving from fallback")

	if justTripped {
		CacheTrips.Inc()
		r.logger.Error().
			Int("consecutive_failures", failures).
			Msg("Primary cache disabled permanently, all traffic moves to fallback")
	}
}

// Get retrieves a value, preferring the primary. A primary miss is a
// result, not a failure: it is returned without consulting the fallback.
func (r *Resilient[V]) Get(ctx context.Context, key string) (V, bool, error) {
	if r.usePrimary() {
		value, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			r.recordSuccess()
			return value, ok, nil
		}
		r.recordFailure("get", err)
	}
	return r.fallback.Get(ctx, key)
}

// Set stores a value, preferring the primary.
func (r *Resilient[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.Set(ctx, key, value, ttl)
		if err == nil {
			r.recordSuccess()
			return nil
		}
		r.recordFailure("set", err)
	}
	return r.fallback.Set(ctx, key, value, ttl)
}

// Has reports entry existence, preferring the primary.
func (r *Resilient[V]) Has(ctx context.Context, key string) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Has(ctx, key)
		if err == nil {
			r.recordSuccess()
			return ok, nil
		}
		r.recordFailure("has", err)
	}
	return r.fallback.Has(ctx, key)
}

// Delete removes an entry from whichever store currently serves calls.
func (r *Resilient[V]) Delete(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			r.recordSuccess()
			return nil
		}
		r.recordFailure("delete", err)
	}
	return r.fallback.Delete(ctx, key)
}

// Clear empties whichever store currently serves calls.
func (r *Resilient[V]) Clear(ctx context.Context) error {
	if r.usePrimary() {
		err := r.primary.Clear(ctx)
		if err == nil {
			r.recordSuccess()
			return nil
		}
		r.recordFailure("clear", err)
	}
	return r.fallback.Clear(ctx)
}

// Stats reports statistics following the primary-then-fallback rule. It
// never errors; when neither side can report it returns a zero Stats.
func (r *Resilient[V]) Stats(ctx context.Context) (Stats, error) {
	if r.usePrimary() {
		stats, err := StatsOf(ctx, r.primary)
		if err == nil {
			r.recordSuccess()
			return stats, nil
		}
		r.recordFailure("stats", err)
	}

	stats, err := StatsOf(ctx, r.fallback)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Fallback cache stats unavailable")
		return Stats{}, nil
	}
	return stats, nil
}

// Destroy tears down both stores independently. Sub-destroy failures are
// logged and swallowed so shutdown always completes.
func (r *Resilient[V]) Destroy(ctx context.Context) error {
	if err := DestroyStore(ctx, r.primary); err != nil {
		r.logger.Warn().Err(err).Msg("Primary cache destroy failed")
	}
	if err := DestroyStore(ctx, r.fallback); err != nil {
		r.logger.Warn().Err(err).Msg("Fallback cache destroy failed")
	}
	return nil
}

var (
	_ Store[any]    = (*Resilient[any])(nil)
	_ StatsProvider = (*Resilient[any])(nil)
	_ Destroyer     = (*Resilient[any])(nil)
)
