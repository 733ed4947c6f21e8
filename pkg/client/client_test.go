package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/darven/toolgate/pkg/cache"
	"github.com/darven/toolgate/pkg/dedup"
	"github.com/darven/toolgate/pkg/ratelimit"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(cache.NewMemory[*Result](time.Minute), baseURL, "toolgate-test/1.0")
	cfg.Retry = fastRetryConfig()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	store := cache.NewMemory[*Result](time.Minute)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base URL", Config{UserAgent: "ua", Store: store}},
		{"missing user-agent", Config{BaseURL: "http://x", Store: store}},
		{"missing store", Config{BaseURL: "http://x", UserAgent: "ua"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFetchCachesResponse(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprint(w, `{"value":"hello"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	first, err := c.Fetch(ctx, "/tools/lookup", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	second, err := c.Fetch(ctx, "/tools/lookup", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	if string(first.Data) != string(second.Data) {
		t.Error("cached result differs from original")
	}
}

func TestFetchNoCacheBypassesStore(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Fetch(ctx, "/volatile", nil); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestFetchDistinctParams(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprintf(w, `{"q":%q}`, r.URL.RawQuery)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "/search", url.Values{"q": {"alpha"}}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := c.Fetch(ctx, "/search", url.Values{"q": {"beta"}}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestFetchCoalescesConcurrentRequests(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprint(w, `{"value":42}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	const waiters = 10
	results := make([]*Result, waiters)
	errs := make([]error, waiters)

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(ctx, "/slow", nil)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: Fetch() error = %v", i, errs[i])
		}
		if string(results[i].Data) != `{"value":42}` {
			t.Errorf("waiter %d got %q", i, results[i].Data)
		}
	}
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.Fetch(context.Background(), "/missing", nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if provErr.Class != ErrorClassClient {
		t.Errorf("error class = %q, want %q", provErr.Class, ErrorClassClient)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (4xx must not retry)", got)
	}
}

func TestFetchRetriesServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprint(w, `{"recovered":true}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	result, err := c.Fetch(context.Background(), "/flaky", nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(result.Data) != `{"recovered":true}` {
		t.Errorf("Data = %q", result.Data)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
}

func TestFetchRetryExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.Fetch(context.Background(), "/broken", nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
}

func TestFetchBlockedByErrorBudget(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	tracker := ratelimit.NewTracker(redisClient, zerolog.Nop())
	headers := http.Header{}
	headers.Set(ratelimit.HeaderErrorsRemain, "2")
	headers.Set(ratelimit.HeaderErrorsReset, "60")
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	cfg := DefaultConfig(cache.NewMemory[*Result](time.Minute), server.URL, "toolgate-test/1.0")
	cfg.Retry = fastRetryConfig()
	cfg.Limiter = tracker

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Fetch(context.Background(), "/guarded", nil)
	if !errors.Is(err, ErrRequestBlocked) {
		t.Errorf("expected ErrRequestBlocked, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("upstream calls = %d, want 0", got)
	}
}

func TestFetchWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultConfig(cache.NewMemory[*Result](time.Minute), server.URL, "toolgate-test/1.0")
	cfg.Retry = fastRetryConfig()
	cfg.WaitTimeout = 50 * time.Millisecond

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Fetch(context.Background(), "/stuck", nil)
	if !errors.Is(err, dedup.ErrWaitTimeout) {
		t.Errorf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestPendingFetches(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Fetch(context.Background(), "/pending", nil)
	}()

	deadline := time.After(time.Second)
	for c.PendingFetches() != 1 {
		select {
		case <-deadline:
			t.Fatal("pending count never reached 1")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	<-done

	deadline = time.After(time.Second)
	for c.PendingFetches() != 0 {
		select {
		case <-deadline:
			t.Fatal("pending count never returned to 0")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCacheStatsAndClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "/stats", nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	stats, err := c.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats() error = %v", err)
	}
	if stats.Size != 1 {
		t.Errorf("Size = %d, want 1", stats.Size)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	stats, err = c.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats() after Close error = %v", err)
	}
	if stats.Size != 0 {
		t.Errorf("Size after Close = %d, want 0", stats.Size)
	}
}
