// Package dedup coalesces concurrent identical operations so the upstream
// provider sees each logical request at most once at a time.
//
// Concurrent calls to Do that share a key attach to one in-flight
// operation and all observe its outcome, success or failure alike. The
// pending entry disappears the instant the operation settles, so a later
// call for the same key starts a fresh execution: coalescing is not
// memoization.
//
// Each waiter may bound its own patience with a timeout. A timed-out
// waiter receives ErrWaitTimeout; the shared operation keeps running to
// completion for everyone still attached.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	pendingOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toolgate_dedup_pending_operations",
		Help: "Number of distinct keys with an operation in flight",
	})

	coalescedWaiters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_dedup_coalesced_waiters_total",
		Help: "Total number of callers that attached to an already running operation",
	})

	waitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_dedup_wait_timeouts_total",
		Help: "Total number of waiters that gave up before the shared operation settled",
	})
)

// ErrWaitTimeout is returned to a waiter whose timeout fired before the
// shared operation settled. The operation itself is unaffected.
var ErrWaitTimeout = errors.New("dedup: wait timed out")

// Operation produces the value for a key. It runs at most once per
// in-flight key regardless of how many callers wait on it.
type Operation[V any] func(ctx context.Context) (V, error)

// Group coalesces concurrent operations by key. The zero value is not
// usable; create instances with NewGroup.
type Group[V any] struct {
	flights singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewGroup creates an empty deduplication group.
func NewGroup[V any]() *Group[V] {
	return &Group[V]{
		pending: make(map[string]struct{}),
	}
}

// Do executes op for key, coalescing concurrent callers that share the
// key onto a single execution. Every attached waiter observes the
// identical outcome.
//
// timeout bounds only this caller's wait. When it fires the caller
// receives ErrWaitTimeout while the operation continues for the
// remaining waiters; a timeout of zero waits until the context or the
// operation settles. Cancelling ctx likewise releases only this caller:
// the operation runs on a context detached from the caller's
// cancellation.
//
// Operation errors are handed to waiters verbatim, never wrapped.
func (g *Group[V]) Do(ctx context.Context, key string, op Operation[V], timeout time.Duration) (V, error) {
	var zero V

	// Detach the operation from the first caller's cancellation: a
	// waiter giving up must not abort work other waiters rely on.
	opCtx := context.WithoutCancel(ctx)

	ch := g.flights.DoChan(key, func() (any, error) {
		g.track(key)
		defer g.untrack(key)
		return op(opCtx)
	})

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-ch:
		if res.Shared {
			coalescedWaiters.Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		value, _ := res.Val.(V)
		return value, nil

	case <-timeoutCh:
		waitTimeouts.Inc()
		return zero, ErrWaitTimeout

	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// PendingCount reports the number of distinct keys with an operation in
// flight. Intended for observability.
func (g *Group[V]) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Group[V]) track(key string) {
	g.mu.Lock()
	g.pending[key] = struct{}{}
	g.mu.Unlock()
	pendingOperations.Inc()
}

func (g *Group[V]) untrack(key string) {
	g.mu.Lock()
	delete(g.pending, key)
	g.mu.Unlock()
	pendingOperations.Dec()
}
