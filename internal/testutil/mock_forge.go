// Package testutil provides testing utilities for the forge batch engine.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock forge endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockForge is a configurable mock forge API server for testing.
type MockForge struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	pathCounts        map[string]int
}

// NewMockForge creates a new mock forge server.
func NewMockForge() *MockForge {
	mock := &MockForge{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockForge) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockForge) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockForge) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.pathCounts = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockForge) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockForge) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetResponseSequence configures a path to answer with each response in turn,
// repeating the last one once the sequence is exhausted.
func (m *MockForge) SetResponseSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		mu.Unlock()

		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockForge) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// PathCount returns the number of requests made to a specific path.
func (m *MockForge) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// defaultHandler provides default forge-like responses.
func (m *MockForge) defaultHandler(w http.ResponseWriter, r *http.Request) {
	setRateHeaders(w.Header(), 1900, 2000, time.Now().Add(time.Minute))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func setRateHeaders(h http.Header, remaining, limit int, reset time.Time) {
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("RateLimit-Limit", strconv.Itoa(limit))
	h.Set("RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

// NewJSONResponse creates a standard 200 OK response with forge rate headers.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    rateHeaderMap(1900, 2000, time.Now().Add(time.Minute)),
	}
}

// NewCreatedResponse creates a 201 Created response carrying the given
// resource id.
func NewCreatedResponse(id int) MockResponse {
	resp := NewJSONResponse(fmt.Sprintf(`{"id":%d}`, id))
	resp.StatusCode = http.StatusCreated
	return resp
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message":"404 Not Found"}`,
		Headers:    rateHeaderMap(1899, 2000, time.Now().Add(time.Minute)),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with the
// given Retry-After delta.
func NewRateLimitResponse(retryAfter int) MockResponse {
	headers := rateHeaderMap(0, 2000, time.Now().Add(time.Duration(retryAfter)*time.Second))
	headers["Retry-After"] = strconv.Itoa(retryAfter)
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message":"Too Many Requests"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message":"Internal Server Error"}`,
		Headers:    rateHeaderMap(1890, 2000, time.Now().Add(time.Minute)),
	}
}

func rateHeaderMap(remaining, limit int, reset time.Time) map[string]string {
	return map[string]string{
		"RateLimit-Remaining": strconv.Itoa(remaining),
		"RateLimit-Limit":     strconv.Itoa(limit),
		"RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
		"Content-Type":        "application/json",
	}
}

// NewPaginatedHandler creates a handler that serves pages of the given items,
// perPage at a time, honoring the page and per_page query parameters.
func NewPaginatedHandler(items []string, perPage int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
			perPage = v
		}

		start := (page - 1) * perPage
		end := start + perPage
		if start > len(items) {
			start = len(items)
		}
		if end > len(items) {
			end = len(items)
		}

		setRateHeaders(w.Header(), 1900, 2000, time.Now().Add(time.Minute))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		body := "["
		for i, item := range items[start:end] {
			if i > 0 {
				body += ","
			}
			body += item
		}
		body += "]"
		w.Write([]byte(body))
	}
}
