package client

import (
	"net/http"
	"testing"
	"time"
)

func TestRetryPolicy_Normalized(t *testing.T) {
	def := DefaultRetryPolicy()

	p := RetryPolicy{}.normalized()
	if p != def {
		t.Errorf("zero policy normalized = %+v, want defaults %+v", p, def)
	}

	p = RetryPolicy{MaxAttempts: 5}.normalized()
	if p.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", p.MaxAttempts)
	}
	if p.BaseDelay != def.BaseDelay {
		t.Errorf("BaseDelay = %v, want default %v", p.BaseDelay, def.BaseDelay)
	}
	if p.JitterFraction != def.JitterFraction {
		t.Errorf("JitterFraction = %v, want default %v (unset jitter must not mean unjittered backoff)",
			p.JitterFraction, def.JitterFraction)
	}

	p = RetryPolicy{JitterFraction: 1.5}.normalized()
	if p.JitterFraction != def.JitterFraction {
		t.Errorf("JitterFraction = %v, want default %v for an out-of-range value", p.JitterFraction, def.JitterFraction)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:       5,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          4 * time.Second,
		JitterFraction:    0.2,
	}

	tests := []struct {
		name    string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{name: "first retry", attempt: 0, min: 800 * time.Millisecond, max: 1200 * time.Millisecond},
		{name: "second retry", attempt: 1, min: 1600 * time.Millisecond, max: 2400 * time.Millisecond},
		{name: "capped at max delay", attempt: 4, min: 3200 * time.Millisecond, max: 4800 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Jitter is random; sample several times.
			for i := 0; i < 20; i++ {
				d := policy.backoff(tt.attempt)
				if d < tt.min || d > tt.max {
					t.Fatalf("backoff(%d) = %v, want within [%v, %v]", tt.attempt, d, tt.min, tt.max)
				}
			}
		})
	}
}

func TestRetryPolicy_BackoffNoJitter(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}

	if d := policy.backoff(0); d != time.Second {
		t.Errorf("backoff(0) = %v, want 1s", d)
	}
	if d := policy.backoff(2); d != 4*time.Second {
		t.Errorf("backoff(2) = %v, want 4s", d)
	}
}

func TestRetryAfterDelay(t *testing.T) {
	fallback := 60 * time.Second

	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "absent header", value: "", expected: fallback},
		{name: "delta seconds", value: "30", expected: 30 * time.Second},
		{name: "zero seconds", value: "0", expected: 0},
		{name: "garbage", value: "soon", expected: fallback},
		{name: "negative", value: "-5", expected: fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			if got := retryAfterDelay(h, fallback); got != tt.expected {
				t.Errorf("retryAfterDelay(%q) = %v, want %v", tt.value, got, tt.expected)
			}
		})
	}
}

func TestRetryAfterDelay_HTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))

	got := retryAfterDelay(h, time.Minute)
	if got <= 0 || got > 11*time.Second {
		t.Errorf("retryAfterDelay(HTTP-date) = %v, want roughly 10s", got)
	}

	h.Set("Retry-After", time.Now().Add(-10*time.Second).UTC().Format(http.TimeFormat))
	if got := retryAfterDelay(h, time.Minute); got != 0 {
		t.Errorf("retryAfterDelay(past HTTP-date) = %v, want 0", got)
	}
}
