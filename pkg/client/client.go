// Package client provides the core HTTP client fronting the slow,
// rate-limited data provider. It composes the caching layer: key
// derivation, cache lookup, request coalescing, retry with backoff and
// header-driven store-back.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/darven/toolgate/pkg/cache"
	"github.com/darven/toolgate/pkg/dedup"
	"github.com/darven/toolgate/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for provider requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_provider_requests_total",
		Help: "Total provider requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolgate_provider_request_duration_seconds",
		Help:    "Provider request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolgate_provider_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the provider's base URL, e.g. "https://data.example.com".
	BaseURL string

	// UserAgent identifies this process to the provider.
	UserAgent string

	// Store holds fetched results. Typically a Resilient store wrapping
	// a Redis primary and a Memory fallback.
	Store cache.Store[*Result]

	// DefaultTTL applies when a response carries no usable caching
	// metadata.
	DefaultTTL time.Duration

	// WaitTimeout bounds an individual caller's wait on a coalesced
	// fetch. Zero waits until the fetch settles.
	WaitTimeout time.Duration

	// HTTPTimeout bounds each upstream request.
	HTTPTimeout time.Duration

	// Retry configures backoff behavior for retriable errors.
	Retry RetryConfig

	// Limiter gates requests on the shared upstream error budget.
	// Optional.
	Limiter *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(store cache.Store[*Result], baseURL, userAgent string) Config {
	return Config{
		BaseURL:     baseURL,
		UserAgent:   userAgent,
		Store:       store,
		DefaultTTL:  5 * time.Minute,
		WaitTimeout: 30 * time.Second,
		HTTPTimeout: 30 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Client fronts the data provider. Identical concurrent fetches share a
// single upstream request; responses are cached with TTLs derived from
// the provider's caching headers.
type Client struct {
	httpClient *http.Client
	store      *cache.HeaderAware[*Result]
	flights    *dedup.Group[*Result]
	limiter    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "provider-client").Logger()

	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		store:      cache.NewHeaderAware[*Result](cfg.Store, cfg.DefaultTTL),
		flights:    dedup.NewGroup[*Result](),
		limiter:    cfg.Limiter,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Fetch returns the provider response for endpoint and params, serving
// from cache when possible. Concurrent identical fetches coalesce onto a
// single upstream request; every caller observes the same outcome.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (*Result, error) {
	key := cache.Key{Namespace: endpoint, Query: params}.String()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
	}
	if ok {
		c.logger.Debug().Str("endpoint", endpoint).Msg("Serving from cache")
		return cached, nil
	}

	return c.flights.Do(ctx, key, func(ctx context.Context) (*Result, error) {
		return c.fetchUpstream(ctx, endpoint, params, key)
	}, c.config.WaitTimeout)
}

// fetchUpstream performs the actual provider request: error-budget gate,
// retry with backoff, then header-driven store-back.
func (c *Client) fetchUpstream(ctx context.Context, endpoint string, params url.Values, key string) (*Result, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Error budget check failed")
			return nil, fmt.Errorf("error budget check: %w", err)
		}
		if !allowed {
			c.logger.Warn().Str("endpoint", endpoint).Msg("Request blocked by error budget")
			requestsTotal.WithLabelValues(endpoint, "blocked").Inc()
			return nil, ErrRequestBlocked
		}
	}

	requestURL := c.config.BaseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Msg("Fetching from provider")

	var result *Result
	retryErr := retryWithBackoff(ctx, c.logger, c.config.Retry, func() (ErrorClass, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return ErrorClassClient, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return ErrorClassNetwork, err
		}
		defer resp.Body.Close()

		if c.limiter != nil {
			if err := c.limiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update error budget from headers")
			}
		}

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(class)).Inc()
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("Provider request error")

			return class, &ProviderError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		result, err = ResultFromResponse(resp)
		if err != nil {
			return ErrorClassNetwork, err
		}
		return "", nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	if err := c.store.SetFromResponse(ctx, key, result, result.Metadata()); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
	} else {
		c.logger.Debug().
			Str("endpoint", endpoint).
			Dur("ttl", cache.ComputeTTL(result.Metadata(), c.config.DefaultTTL)).
			Msg("Cached response")
	}

	return result, nil
}

// PendingFetches reports the number of distinct in-flight upstream
// fetches.
func (c *Client) PendingFetches() int {
	return c.flights.PendingCount()
}

// CacheStats reports the backing store's statistics.
func (c *Client) CacheStats(ctx context.Context) (cache.Stats, error) {
	return c.store.Stats(ctx)
}

// Close tears down the backing store. Safe to call multiple times.
func (c *Client) Close(ctx context.Context) error {
	return c.store.Destroy(ctx)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
