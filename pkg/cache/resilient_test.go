package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// faultyStore fails every operation while failing is true and otherwise
// behaves like a Memory store.
type faultyStore struct {
	*Memory[string]
	failing   bool
	destroyed int
}

var errStorage = errors.New("storage unavailable")

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: NewMemory[string](time.Minute)}
}

func (f *faultyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failing {
		return "", false, errStorage
	}
	return f.Memory.Get(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.failing {
		return errStorage
	}
	return f.Memory.Set(ctx, key, value, ttl)
}

func (f *faultyStore) Has(ctx context.Context, key string) (bool, error) {
	if f.failing {
		return false, errStorage
	}
	return f.Memory.Has(ctx, key)
}

func (f *faultyStore) Stats(ctx context.Context) (Stats, error) {
	if f.failing {
		return Stats{}, errStorage
	}
	return f.Memory.Stats(ctx)
}

func (f *faultyStore) Destroy(ctx context.Context) error {
	f.destroyed++
	if f.failing {
		return errStorage
	}
	return f.Memory.Destroy(ctx)
}

func TestResilient_PrimaryErrorServedFromFallback(t *testing.T) {
	ctx := context.Background()
	primary := newFaultyStore()
	fallback := NewMemory[string](time.Minute)
	wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

	_ = fallback.Set(ctx, "k", "from-fallback", time.Minute)
	primary.failing = true

	got, ok, err := wrapper.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() must not surface a primary error, got %v", err)
	}
	if !ok || got != "from-fallback" {
		t.Errorf("Get() = (%q, %v), want fallback value", got, ok)
	}
}

func TestResilient_PrimaryMissIsNotFailover(t *testing.T) {
	ctx := context.Background()
	primary := newFaultyStore()
	fallback := NewMemory[string](time.Minute)
	wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

	// The fallback holds the key, but a healthy primary miss is a result.
	_ = fallback.Set(ctx, "k", "hidden", time.Minute)

	_, ok, err := wrapper.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("a primary miss must be returned as a miss, not retried on the fallback")
	}
}

func TestResilient_TripsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	primary := newFaultyStore()
	fallback := NewMemory[string](time.Minute)
	wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

	primary.failing = true
	for i := 0; i < MaxConsecutiveFailures; i++ {
		// Mix of operations; each primary failure counts.
		switch i % 3 {
		case 0:
			_, _, _ = wrapper.Get(ctx, "k")
		case 1:
			_ = wrapper.Set(ctx, "k", "v", time.Minute)
		default:
			_, _ = wrapper.Has(ctx, "k")
		}
	}

	if !wrapper.Tripped() {
		t.Fatal("wrapper should trip after MaxConsecutiveFailures primary errors")
	}

	// Even a recovered primary is never consulted again.
	primary.failing = false
	_ = primary.Memory.Set(ctx, "k", "from-primary", time.Minute)
	_ = fallback.Set(ctx, "k", "from-fallback", time.Minute)

	got, ok, err := wrapper.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "from-fallback" {
		t.Errorf("Get() after trip = (%q, %v), want fallback value", got, ok)
	}
	if !wrapper.Tripped() {
		t.Error("the trip latch must never reset")
	}
}

func TestResilient_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	primary := newFaultyStore()
	fallback := NewMemory[string](time.Minute)
	wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

	// Four failures, a success, then four more failures: never trips.
	primary.failing = true
	for i := 0; i < MaxConsecutiveFailures-1; i++ {
		_, _, _ = wrapper.Get(ctx, "k")
	}
	primary.failing = false
	_, _, _ = wrapper.Get(ctx, "k")
	primary.failing = true
	for i := 0; i < MaxConsecutiveFailures-1; i++ {
		_, _, _ = wrapper.Get(ctx, "k")
	}

	if wrapper.Tripped() {
		t.Error("non-consecutive failures must not trip the wrapper")
	}
}

func TestResilient_SetFailoverWritesFallback(t *testing.T) {
	ctx := context.Background()
	primary := newFaultyStore()
	fallback := NewMemory[string](time.Minute)
	wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

	primary.failing = true
	if err := wrapper.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() must not surface a primary error, got %v", err)
	}

	got, ok, _ := fallback.Get(ctx, "k")
	if !ok || got != "v" {
		t.Errorf("fallback.Get() = (%q, %v), want the failed-over write", got, ok)
	}
}

func TestResilient_Stats(t *testing.T) {
	ctx := context.Background()

	t.Run("primary stats preferred", func(t *testing.T) {
		primary := newFaultyStore()
		fallback := NewMemory[string](time.Minute)
		wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

		_ = primary.Memory.Set(ctx, "a", "1", time.Minute)

		stats, err := wrapper.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.Size != 1 {
			t.Errorf("Stats().Size = %d, want 1", stats.Size)
		}
	})

	t.Run("default shape when primary fails", func(t *testing.T) {
		primary := newFaultyStore()
		fallback := NewMemory[string](time.Minute)
		wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

		primary.failing = true
		stats, err := wrapper.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() must never error, got %v", err)
		}
		if stats.Size != 0 {
			t.Errorf("Stats().Size = %d, want 0", stats.Size)
		}
	})
}

func TestResilient_DestroyNeverFails(t *testing.T) {
	ctx := context.Background()
	primary := newFaultyStore()
	fallback := newFaultyStore()
	wrapper := NewResilient[string](primary, fallback, zerolog.Nop())

	primary.failing = true
	fallback.failing = true

	if err := wrapper.Destroy(ctx); err != nil {
		t.Fatalf("Destroy() must always complete, got %v", err)
	}
	if primary.destroyed != 1 || fallback.destroyed != 1 {
		t.Errorf("Destroy() must attempt both sides, got primary=%d fallback=%d",
			primary.destroyed, fallback.destroyed)
	}
}
