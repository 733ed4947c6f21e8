package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Provider error budget headers.
const (
	HeaderErrorsRemain = "X-RateLimit-Remain"
	HeaderErrorsReset  = "X-RateLimit-Reset"
)

// stateMaxAge is how long cached budget state is trusted before it is
// considered stale and requests pass through unrestricted.
const stateMaxAge = 2 * time.Minute

// throttleDelay is the pause applied per request while the budget is in
// the warning band.
const throttleDelay = 1 * time.Second

var (
	errorsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "toolgate_errors_remaining",
		Help: "Upstream error budget remaining as reported by the provider",
	})

	rateLimitBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_rate_limit_blocks_total",
		Help: "Requests blocked because the error budget was critical",
	})

	rateLimitThrottles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toolgate_rate_limit_throttles_total",
		Help: "Requests throttled because the error budget was low",
	})
)

// Tracker maintains shared error budget state in Redis and decides
// whether outgoing requests may proceed.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a Tracker backed by the given Redis client.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("ratelimit: redis client must not be nil")
	}
	return &Tracker{
		redis:  redisClient,
		logger: logger.With().Str("component", "ratelimit").Logger(),
	}
}

// GetState retrieves the current error budget state from Redis. When no
// state has been recorded yet it returns a healthy default so requests
// are not blocked before the first provider response arrives.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	pipe := t.redis.Pipeline()
	remainCmd := pipe.Get(ctx, RedisKeyErrorsRemaining)
	resetCmd := pipe.Get(ctx, RedisKeyResetTimestamp)
	updateCmd := pipe.Get(ctx, RedisKeyLastUpdate)

	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		return t.defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read error budget state: %w", err)
	}

	remaining, err := remainCmd.Int()
	if err != nil {
		return t.defaultState(), nil
	}

	resetUnix, err := resetCmd.Int64()
	if err != nil {
		return t.defaultState(), nil
	}

	updateUnix, err := updateCmd.Int64()
	if err != nil {
		return t.defaultState(), nil
	}

	state := &State{
		ErrorsRemaining: remaining,
		ResetAt:         time.Unix(resetUnix, 0),
		LastUpdate:      time.Unix(updateUnix, 0),
	}
	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders records the error budget reported in a provider
// response. Responses without budget headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderErrorsRemain)
	resetStr := headers.Get(HeaderErrorsReset)
	if remainStr == "" || resetStr == "" {
		return nil
	}

	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		t.logger.Warn().
			Str("header", HeaderErrorsRemain).
			Str("value", remainStr).
			Msg("unparsable error budget header")
		return nil
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		t.logger.Warn().
			Str("header", HeaderErrorsReset).
			Str("value", resetStr).
			Msg("unparsable error budget header")
		return nil
	}

	now := time.Now()
	resetAt := now.Add(time.Duration(resetSeconds) * time.Second)

	pipe := t.redis.Pipeline()
	ttl := time.Duration(resetSeconds)*time.Second + time.Minute
	pipe.Set(ctx, RedisKeyErrorsRemaining, remaining, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, resetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, now.Unix(), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store error budget state: %w", err)
	}

	errorsRemaining.Set(float64(remaining))

	if remaining < ErrorThresholdWarning {
		t.logger.Warn().
			Int("errors_remaining", remaining).
			Time("reset_at", resetAt).
			Msg("upstream error budget is low")
	} else {
		t.logger.Debug().
			Int("errors_remaining", remaining).
			Time("reset_at", resetAt).
			Msg("error budget updated")
	}

	return nil
}

// ShouldAllowRequest decides whether an outgoing request may proceed.
// When the budget is critical the request is rejected. When it is in the
// warning band the call sleeps for throttleDelay before allowing the
// request, honoring context cancellation.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		// Budget state being unreachable must not take the service
		// down. Allow the request and rely on the provider's own
		// enforcement.
		t.logger.Warn().Err(err).Msg("error budget state unavailable, allowing request")
		return true, nil
	}

	if state.IsStale(stateMaxAge) {
		return true, nil
	}

	if state.NeedsCriticalBlock() {
		rateLimitBlocks.Inc()
		t.logger.Error().
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("time_until_reset", state.TimeUntilReset()).
			Msg("blocking request, error budget critical")
		return false, nil
	}

	if state.NeedsThrottling() {
		rateLimitThrottles.Inc()
		t.logger.Warn().
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("throttling request, error budget low")

		timer := time.NewTimer(throttleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}

// defaultState returns a healthy state used before any provider response
// has been observed.
func (t *Tracker) defaultState() *State {
	return &State{
		ErrorsRemaining: 100,
		ResetAt:         time.Now().Add(time.Minute),
		LastUpdate:      time.Now(),
		IsHealthy:       true,
	}
}
