// Package ratelimit tracks the remote API's request quota and gates outgoing
// requests. It consumes the standard RateLimit-Remaining / RateLimit-Limit /
// RateLimit-Reset response headers and additionally enforces a minimum
// spacing between any two requests to smooth bursts.
package ratelimit

import (
	"time"
)

// DefaultMinSpacing is the minimum delay enforced between two requests,
// independent of the remaining quota.
const DefaultMinSpacing = 500 * time.Millisecond

// DefaultLowWaterFraction is the fraction of the quota ceiling below which
// requests block until the window resets.
const DefaultLowWaterFraction = 0.01

// State represents the quota view for one credential set. All client
// instances sharing a credential share a single State through a Limiter.
type State struct {
	// Remaining is the request quota left in the current window.
	// Extracted from the RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Ceiling is the full quota of the window (RateLimit-Limit header).
	// Zero when the remote never reported it.
	Ceiling int `json:"ceiling"`

	// ResetAt is the timestamp when the quota window resets
	// (RateLimit-Reset header).
	ResetAt time.Time `json:"reset_at"`

	// LastRequestAt is the timestamp when the last request was released.
	// Used to enforce minimum inter-request spacing.
	LastRequestAt time.Time `json:"last_request_at"`

	// UpdatedAt is when this state last saw real response metadata.
	UpdatedAt time.Time `json:"updated_at"`

	// Known is false until the first response carrying rate-limit
	// metadata has been observed. Unknown state never blocks (fail-open).
	Known bool `json:"known"`
}

// Depleted returns true when the quota is low enough that requests must wait
// for the window reset: explicitly zero, or at or below the given fraction of
// the known ceiling. A window whose reset time has already passed is never
// depleted.
func (s *State) Depleted(fraction float64, now time.Time) bool {
	if !s.Known || !now.Before(s.ResetAt) {
		return false
	}
	if s.Remaining <= 0 {
		return true
	}
	if s.Ceiling > 0 && float64(s.Remaining) <= float64(s.Ceiling)*fraction {
		return true
	}
	return false
}

// TimeUntilReset returns the duration until the quota window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state has not seen response metadata for longer
// than maxAge. Stale state should be refreshed from a shared store when one
// is configured.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.UpdatedAt) > maxAge
}
