package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgeops/glbatch/internal/testutil"
	"github.com/forgeops/glbatch/pkg/ratelimit"
)

// fastPolicy keeps retry tests quick.
func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Millisecond,
		JitterFraction:    0.2,
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(baseURL, "test-token")
	cfg.Retry = fastPolicy(3)
	cfg.Limiter = ratelimit.NewLimiter(ratelimit.Options{MinSpacing: time.Millisecond}, zerolog.Nop())

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Token: "t"}); err == nil {
		t.Error("New() without base URL should fail")
	}
	if _, err := New(Config{BaseURL: "http://forge.local"}); err == nil {
		t.Error("New() without token should fail")
	}
}

func TestClient_SuccessSingleAttempt(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponse("/groups/1", testutil.NewJSONResponse(`{"id":1,"path":"infra"}`))

	c := newTestClient(t, mock.URL())

	resp, err := c.Get(context.Background(), "/groups/1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !resp.Success() {
		t.Errorf("Success() = false, status %d", resp.StatusCode)
	}
	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}

	var decoded struct {
		ID   int    `json:"id"`
		Path string `json:"path"`
	}
	if err := resp.DecodeJSON(&decoded); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if decoded.Path != "infra" {
		t.Errorf("decoded path = %q, want %q", decoded.Path, "infra")
	}
}

func TestClient_SendsAuthHeaders(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()

	c := newTestClient(t, mock.URL())

	if _, err := c.Get(context.Background(), "/projects"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	headers := mock.LastRequestHeader
	if got := headers.Get("PRIVATE-TOKEN"); got != "test-token" {
		t.Errorf("PRIVATE-TOKEN = %q, want %q", got, "test-token")
	}
	if got := headers.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q, want application/json", got)
	}
	if got := headers.Get("User-Agent"); got != "glbatch/1.0" {
		t.Errorf("User-Agent = %q, want glbatch/1.0", got)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponse("/groups/missing", testutil.NewNotFoundResponse())

	c := newTestClient(t, mock.URL())

	resp, err := c.Get(context.Background(), "/groups/missing")
	if err != nil {
		t.Fatalf("Get() error = %v, a 404 is a valid outcome", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if resp.Success() {
		t.Error("Success() = true for a 404")
	}
	if got := mock.PathCount("/groups/missing"); got != 1 {
		t.Errorf("server saw %d requests, want exactly 1 (no retries)", got)
	}
}

func TestClient_ServerErrorRetriesExhausted(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponse("/projects", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL())

	_, err := c.Post(context.Background(), "/projects", map[string]any{"path": "x"})
	if err == nil {
		t.Fatal("Post() should fail after exhausting retries")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassServer {
		t.Errorf("ErrorClass = %q, want server", apiErr.ErrorClass)
	}
	if apiErr.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", apiErr.Attempts)
	}
	if got := mock.PathCount("/projects"); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestClient_ServerErrorRecovers(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponseSequence("/groups",
		testutil.NewServerErrorResponse(),
		testutil.NewCreatedResponse(42),
	)

	c := newTestClient(t, mock.URL())

	resp, err := c.Post(context.Background(), "/groups", map[string]any{"path": "infra"})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if resp.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
}

func TestClient_RateLimitPausesSharedLimiter(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponse("/groups", testutil.NewRateLimitResponse(30))

	c := newTestClient(t, mock.URL())

	_, err := c.ExecuteWith(context.Background(), fastPolicy(1), "GET", "/groups", nil)
	if err == nil {
		t.Fatal("expected failure for a 429 with no attempts left")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassRateLimit {
		t.Errorf("ErrorClass = %q, want rate_limit", apiErr.ErrorClass)
	}

	// The 429 must pause the limiter shared by every worker.
	state := c.Limiter().Snapshot()
	if state.Remaining != 0 {
		t.Errorf("limiter Remaining = %d, want 0 after 429", state.Remaining)
	}
	until := time.Until(state.ResetAt)
	if until < 25*time.Second || until > 35*time.Second {
		t.Errorf("limiter paused for %v, want ~30s from Retry-After", until)
	}
}

func TestClient_RateLimitRecovers(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponseSequence("/projects",
		testutil.NewRateLimitResponse(0),
		testutil.NewJSONResponse(`{"id":7}`),
	)

	c := newTestClient(t, mock.URL())

	resp, err := c.Get(context.Background(), "/projects")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}
}

func TestClient_NetworkErrorRetriesExhausted(t *testing.T) {
	mock := testutil.NewMockForge()
	url := mock.URL()
	mock.Close() // nothing listens anymore

	c := newTestClient(t, url)

	_, err := c.Get(context.Background(), "/groups")
	if err == nil {
		t.Fatal("Get() against a closed server should fail")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", apiErr.ErrorClass)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a network failure", apiErr.StatusCode)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockForge()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockResponse{
		StatusCode: 200,
		Body:       `{}`,
		Delay:      300 * time.Millisecond,
	})

	c := newTestClient(t, mock.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "/slow")
	if err == nil {
		t.Fatal("Get() should fail when the context expires mid-request")
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
}
