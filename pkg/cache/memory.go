package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Memory is an in-memory TTL store. Entries expire lazily: Get and Has
// perform the expiry check at call time and delete an expired entry as a
// side effect of observing it. Cleanup offers an eager sweep for callers
// that want proactive reclamation.
type Memory[V any] struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry[V]
	defaultTTL time.Duration
}

// NewMemory creates an in-memory store. defaultTTL is reported via Stats
// and consumed by wrappers that fall back to it (see HeaderAware).
func NewMemory[V any](defaultTTL time.Duration) *Memory[V] {
	return &Memory[V]{
		entries:    make(map[string]memoryEntry[V]),
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a value. Returns (zero, false, nil) on miss or expiry.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return zero, false, nil
	}

	if !time.Now().Before(entry.expiresAt) {
		delete(m.entries, key)
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return zero, false, nil
	}

	CacheHits.WithLabelValues(layerMemory).Inc()
	return entry.value, true, nil
}

// Set stores a value with the given TTL. TTL <= 0 means "do not cache".
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()

	return nil
}

// Has reports whether an unexpired entry exists for key. Like Get, it
// removes an expired entry on observation.
func (m *Memory[V]) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}

	if !time.Now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return false, nil
	}

	return true, nil
}

// Delete removes an entry. Idempotent.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear removes all entries.
func (m *Memory[V]) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry[V])
	m.mu.Unlock()
	return nil
}

// Cleanup eagerly removes all entries past their expiry and returns the
// number removed.
func (m *Memory[V]) Cleanup(_ context.Context) (int, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}

	return removed, nil
}

// Stats reports the current entry count and the configured default TTL.
func (m *Memory[V]) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Size:       len(m.entries),
		DefaultTTL: m.defaultTTL,
	}, nil
}

// Destroy clears all state. Safe to call multiple times.
func (m *Memory[V]) Destroy(ctx context.Context) error {
	return m.Clear(ctx)
}

var (
	_ Store[any]    = (*Memory[any])(nil)
	_ StatsProvider = (*Memory[any])(nil)
	_ Destroyer     = (*Memory[any])(nil)
	_ Sweeper       = (*Memory[any])(nil)
)
