// Package ratelimit implements host cooldown tracking and request pacing.
// A Tracker records when a source host answered 429 or 503 with a
// Retry-After hint and makes every worker wait out that cooldown. A Pacer
// spreads requests evenly with a token bucket.
package ratelimit

import (
	"time"
)

// Redis key prefix for cooldown state. The host name is appended.
const RedisKeyCooldownPrefix = "bulkfetch:cooldown:"

// Bounds applied to Retry-After hints.
const (
	// DefaultCooldown is used when the source asks us to back off without a hint.
	DefaultCooldown = 5 * time.Second

	// MaxCooldown caps a single cooldown so a hostile header cannot stall a run.
	MaxCooldown = 5 * time.Minute
)

// CooldownState describes whether requests to one host must wait.
type CooldownState struct {
	// Host is the source host the state applies to.
	Host string `json:"host"`

	// Until is the moment requests may resume.
	Until time.Time `json:"until"`

	// StatusCode is the response status that triggered the cooldown.
	StatusCode int `json:"status_code"`

	// LastUpdate is when this state was written.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether the cooldown is still in effect.
func (s *CooldownState) Active() bool {
	return s != nil && time.Now().Before(s.Until)
}

// Remaining returns the time left until requests may resume.
// Returns 0 if the cooldown has passed.
func (s *CooldownState) Remaining() time.Duration {
	if s == nil {
		return 0
	}
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *CooldownState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// clampCooldown keeps d within (0, MaxCooldown].
func clampCooldown(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultCooldown
	case d > MaxCooldown:
		return MaxCooldown
	default:
		return d
	}
}
