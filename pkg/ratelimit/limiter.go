package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit gating.
var (
	forgeQuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forge_rate_limit_remaining",
		Help: "Request quota remaining in the current rate limit window",
	})

	forgeRateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_rate_limit_waits_total",
		Help: "Total number of waits imposed by the rate limiter by reason",
	}, []string{"reason"})

	forgeRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forge_rate_limit_wait_seconds",
		Help:    "Duration of waits imposed by the rate limiter",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ErrNoState is returned by a StateStore when no shared state exists yet.
var ErrNoState = errors.New("no rate limit state stored")

// StateStore persists rate limit state outside the process so that several
// processes sharing one credential see a single quota view.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state State) error
}

// Options configures a Limiter.
type Options struct {
	// MinSpacing is the minimum delay between two requests
	// (default 500ms). Applied even when quota is ample.
	MinSpacing time.Duration

	// LowWaterFraction is the fraction of the quota ceiling below which
	// requests block until the window resets (default 0.01).
	LowWaterFraction float64

	// Store is an optional shared backend for the state. When set,
	// observed headers are mirrored to it and stale local state is
	// refreshed from it.
	Store StateStore

	// StoreMaxAge is how old local state may grow before it is refreshed
	// from the shared store (default 2s). Ignored without a Store.
	StoreMaxAge time.Duration
}

// Limiter gates requests for one credential set. It is safe for concurrent
// use; all workers of a batch share a single Limiter so that a quota
// depletion observed by one worker pauses all of them.
type Limiter struct {
	mu     sync.Mutex
	state  State
	opts   Options
	logger zerolog.Logger
}

// NewLimiter creates a limiter with the given options. Zero option fields
// fall back to defaults.
func NewLimiter(opts Options, logger zerolog.Logger) *Limiter {
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = DefaultMinSpacing
	}
	if opts.LowWaterFraction <= 0 {
		opts.LowWaterFraction = DefaultLowWaterFraction
	}
	if opts.StoreMaxAge <= 0 {
		opts.StoreMaxAge = 2 * time.Second
	}
	return &Limiter{
		opts:   opts,
		logger: logger,
	}
}

// Acquire blocks until it is safe to send a request. It never fails on quota
// grounds; the only error it returns is the context's when the caller gives
// up waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refreshFromStoreLocked(ctx)

		now := time.Now()
		wait, reason := l.waitLocked(now)
		if wait <= 0 {
			l.state.LastRequestAt = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		forgeRateLimitWaitsTotal.WithLabelValues(reason).Inc()
		forgeRateLimitWaitSeconds.Observe(wait.Seconds())

		l.logger.Debug().
			Str("reason", reason).
			Dur("wait", wait).
			Msg("Rate limiter delaying request")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// waitLocked computes how long the next request must wait, and why.
func (l *Limiter) waitLocked(now time.Time) (time.Duration, string) {
	if l.state.Depleted(l.opts.LowWaterFraction, now) {
		return l.state.TimeUntilReset(now), "quota"
	}
	if !l.state.LastRequestAt.IsZero() {
		if spacing := l.opts.MinSpacing - now.Sub(l.state.LastRequestAt); spacing > 0 {
			return spacing, "spacing"
		}
	}
	return 0, ""
}

// Observe updates the quota state from rate-limit response headers. Missing
// metadata leaves the state unchanged (fail-open).
func (l *Limiter) Observe(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse RateLimit-Remaining header: %w", err)
	}

	l.mu.Lock()
	l.state.Remaining = remain
	l.state.Known = true
	l.state.UpdatedAt = time.Now()

	if limitStr := headers.Get("RateLimit-Limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			l.state.Ceiling = limit
		}
	}
	if resetStr := headers.Get("RateLimit-Reset"); resetStr != "" {
		if resetUnix, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			l.state.ResetAt = time.Unix(resetUnix, 0)
		}
	}
	snapshot := l.state
	l.mu.Unlock()

	forgeQuotaRemaining.Set(float64(remain))

	if snapshot.Depleted(l.opts.LowWaterFraction, time.Now()) {
		l.logger.Warn().
			Int("remaining", snapshot.Remaining).
			Time("reset_at", snapshot.ResetAt).
			Msg("Request quota low - requests will wait for window reset")
	} else {
		l.logger.Debug().
			Int("remaining", snapshot.Remaining).
			Time("reset_at", snapshot.ResetAt).
			Msg("Rate limit state updated")
	}

	if l.opts.Store != nil {
		if err := l.opts.Store.Save(ctx, snapshot); err != nil {
			return fmt.Errorf("save rate limit state: %w", err)
		}
	}
	return nil
}

// PauseUntil marks the quota as exhausted until t, so that every worker
// sharing this limiter waits. Used after a 429 response.
func (l *Limiter) PauseUntil(ctx context.Context, t time.Time) {
	l.mu.Lock()
	l.state.Remaining = 0
	l.state.Known = true
	l.state.ResetAt = t
	l.state.UpdatedAt = time.Now()
	snapshot := l.state
	l.mu.Unlock()

	forgeQuotaRemaining.Set(0)

	l.logger.Warn().
		Time("until", t).
		Msg("Rate limiter paused for all workers")

	if l.opts.Store != nil {
		if err := l.opts.Store.Save(ctx, snapshot); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to mirror rate limit pause")
		}
	}
}

// Snapshot returns a copy of the current state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// refreshFromStoreLocked reloads stale local state from the shared store.
// Load failures are logged and ignored; the local view keeps working.
func (l *Limiter) refreshFromStoreLocked(ctx context.Context) {
	if l.opts.Store == nil || !l.state.IsStale(l.opts.StoreMaxAge) {
		return
	}
	stored, err := l.opts.Store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoState) {
			l.logger.Warn().Err(err).Msg("Failed to load shared rate limit state")
		}
		return
	}
	// Spacing is a local concern; keep the local release timestamp.
	stored.LastRequestAt = l.state.LastRequestAt
	l.state = *stored
}
