// Package ratelimit tracks the upstream provider's error budget and gates
// outgoing requests. It monitors the X-RateLimit-Remain and
// X-RateLimit-Reset response headers so the process backs off before the
// provider starts rejecting it.
package ratelimit

import (
	"time"
)

// Redis keys for error budget state storage. State is shared across all
// client instances pointing at the same provider.
const (
	RedisKeyErrorsRemaining = "toolgate:error_budget:errors_remaining"
	RedisKeyResetTimestamp  = "toolgate:error_budget:reset_timestamp"
	RedisKeyLastUpdate      = "toolgate:error_budget:last_update"
)

// Thresholds for error budget decisions.
const (
	// ErrorThresholdCritical blocks all requests when errors remaining
	// falls below this value.
	ErrorThresholdCritical = 5

	// ErrorThresholdWarning applies throttling when errors remaining
	// falls below this value.
	ErrorThresholdWarning = 20

	// ErrorThresholdHealthy indicates normal operation. At or above this
	// value no restrictions apply.
	ErrorThresholdHealthy = 50
)

// State represents the current upstream error budget.
type State struct {
	// ErrorsRemaining is the number of errors allowed before the
	// provider blocks requests. Extracted from X-RateLimit-Remain.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the error budget window resets. Calculated from
	// X-RateLimit-Reset (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when ErrorsRemaining >= ErrorThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return s.ErrorsRemaining < ErrorThresholdCritical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.ErrorsRemaining < ErrorThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the budget resets, or 0 if
// the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from the current ErrorsRemaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.ErrorsRemaining >= ErrorThresholdHealthy
}
