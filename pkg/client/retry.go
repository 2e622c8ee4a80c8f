package client

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// retryAfterFallback is the wait applied after a 429 response that carries no
// Retry-After header.
const retryAfterFallback = 60 * time.Second

// RetryPolicy holds the configuration for retry and backoff behaviour.
// The zero value of any field falls back to the default.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the initial
	// request. 429 and 5xx retries draw from the same budget.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// BackoffMultiplier is the exponential growth factor per attempt.
	BackoffMultiplier float64

	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration

	// JitterFraction randomizes each backoff by ±fraction.
	JitterFraction float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		JitterFraction:    0.2,
	}
}

// normalized fills zero fields with their defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = def.BackoffMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.JitterFraction <= 0 || p.JitterFraction >= 1 {
		p.JitterFraction = def.JitterFraction
	}
	return p
}

// backoff returns the jittered delay before retry number attempt (0-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if capped := float64(p.MaxDelay); delay > capped {
		delay = capped
	}
	factor := 1 - p.JitterFraction + rand.Float64()*2*p.JitterFraction
	return time.Duration(delay * factor)
}

// retryAfterDelay extracts the wait from a Retry-After header, accepting both
// delta-seconds and HTTP-date forms. Returns fallback when absent or
// unparseable.
func retryAfterDelay(headers http.Header, fallback time.Duration) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

// sleep waits for d with context cancellation support.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(d):
		return nil
	}
}
