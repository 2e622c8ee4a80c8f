// Package client provides the retrying forge HTTP client. Every request is
// gated by the shared rate limiter, transient failures (429, 5xx, network)
// are retried under an attempt budget, and non-429 4xx responses are returned
// to the caller unretried.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forgeops/glbatch/pkg/ratelimit"
)

// Prometheus metrics for forge client operations.
var (
	forgeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_requests_total",
		Help: "Total forge API requests by method and status",
	}, []string{"method", "status"})

	forgeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_request_duration_seconds",
		Help:    "Forge API request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	forgeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_errors_total",
		Help: "Total forge API errors by class",
	}, []string{"class"})

	forgeRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	forgeRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	forgeRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the forge API root, e.g. "https://forge.example.com/api/v4".
	BaseURL string

	// Token is the credential sent in the PRIVATE-TOKEN header.
	// Immutable for the process lifetime.
	Token string

	// UserAgent identifies this tool to the remote.
	UserAgent string

	// Timeout bounds each individual HTTP call. Exceeding it counts as a
	// network error for retry purposes.
	Timeout time.Duration

	// Retry is the default retry policy; call sites may override per call.
	Retry RetryPolicy

	// Limiter gates every request. One limiter per credential set, shared
	// across all workers.
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, token string) Config {
	return Config{
		BaseURL:   baseURL,
		Token:     token,
		UserAgent: "glbatch/1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryPolicy(),
	}
}

// Response is the outcome of one logical request. A non-429 4xx status is a
// valid, non-retried outcome; the caller interprets it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is how many HTTP calls the logical request took.
	Attempts int
}

// Success reports whether the response carries a 2xx/3xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Client is the retrying forge API client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new forge client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "forge-client").Logger()

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.Options{}, logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Limiter returns the rate limiter shared by this client.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Execute performs one logical request under the client's default retry
// policy.
func (c *Client) Execute(ctx context.Context, method, path string, body any) (*Response, error) {
	return c.ExecuteWith(ctx, c.config.Retry, method, path, body)
}

// ExecuteWith performs one logical request under the given retry policy.
// Attempts are serialized; there are no parallel retries. All waiting happens
// inside the rate limiter and the backoff sleeps.
func (c *Client) ExecuteWith(ctx context.Context, policy RetryPolicy, method, path string, body any) (*Response, error) {
	policy = policy.normalized()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastStatus int
	var lastClass ErrorClass
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		resp, err := c.send(ctx, method, path, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			lastClass = ErrorClassNetwork
			lastStatus = 0
			lastErr = err
			forgeErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			c.logger.Warn().Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempt).
				Msg("Forge request failed")
		} else {
			if err := c.limiter.Observe(ctx, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
			forgeRequestsTotal.WithLabelValues(method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

			class := classifyStatus(resp.StatusCode)
			if class == "" || !shouldRetry(class) {
				resp.Attempts = attempt
				return resp, nil
			}

			lastClass = class
			lastStatus = resp.StatusCode
			lastErr = nil
			forgeErrorsTotal.WithLabelValues(string(class)).Inc()
			c.logger.Warn().
				Str("method", method).
				Str("path", path).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Forge request error")

			if class == ErrorClassRateLimit {
				// Pause the shared limiter so every worker waits,
				// not just this one. The next Acquire blocks
				// until the pause expires.
				wait := retryAfterDelay(resp.Header, retryAfterFallback)
				c.limiter.PauseUntil(ctx, time.Now().Add(wait))

				if attempt < policy.MaxAttempts {
					forgeRetriesTotal.WithLabelValues(string(class)).Inc()
					forgeRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())
					continue
				}
				break
			}
		}

		if attempt >= policy.MaxAttempts {
			break
		}

		delay := policy.backoff(attempt - 1)
		forgeRetriesTotal.WithLabelValues(string(lastClass)).Inc()
		forgeRetryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(delay.Seconds())

		c.logger.Debug().
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	forgeRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	c.logger.Warn().
		Str("method", method).
		Str("path", path).
		Str("error_class", string(lastClass)).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	message := fmt.Sprintf("%s %s", method, path)
	if lastErr != nil {
		message = fmt.Sprintf("%s: %v", message, lastErr)
	}
	return nil, &APIError{
		StatusCode: lastStatus,
		ErrorClass: lastClass,
		Message:    message,
		Attempts:   policy.MaxAttempts,
		Err:        ErrRetryExhausted,
	}
}

// send issues a single HTTP call and reads the full body.
func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	url := strings.TrimSuffix(c.config.BaseURL, "/") + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("PRIVATE-TOKEN", c.config.Token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	forgeRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Execute(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Execute(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Execute(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Execute(ctx, http.MethodDelete, path, nil)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
