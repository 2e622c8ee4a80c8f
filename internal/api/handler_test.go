package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeops/glbatch/pkg/batch"
	"github.com/forgeops/glbatch/pkg/client"
	"github.com/forgeops/glbatch/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeExecutor answers every write with 201 {"id":1}.
type fakeExecutor struct{}

func (f *fakeExecutor) ExecuteWith(ctx context.Context, policy client.RetryPolicy, method, path string, body any) (*client.Response, error) {
	return &client.Response{StatusCode: http.StatusCreated, Body: []byte(`{"id":1}`), Attempts: 1}, nil
}

// fakeResolver reports every resource as absent.
type fakeResolver struct{}

func (f *fakeResolver) Resolve(ctx context.Context, kind batch.Kind, naturalKey, parentRef string) (batch.Resolution, error) {
	return batch.Resolution{}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *batch.Orchestrator, batch.Store) {
	t.Helper()
	jobStore := store.NewMemoryStore()
	orch := batch.NewOrchestrator(&fakeExecutor{}, &fakeResolver{}, jobStore)
	t.Cleanup(orch.Wait)

	handler := NewHandler(orch, jobStore, 2)
	return SetupRoutes(handler), orch, jobStore
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// submitAndWait submits one group create and waits for the job to finish.
func submitAndWait(t *testing.T, router *gin.Engine, jobStore batch.Store) string {
	t.Helper()
	w := doRequest(router, http.MethodPost, "/api/v1/jobs",
		`{"operations":[{"kind":"create-group","natural_key":"platform"}]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data batch.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)

	require.Eventually(t, func() bool {
		job, err := jobStore.GetJob(context.Background(), resp.Data.ID)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return resp.Data.ID
}

func TestSubmitJob(t *testing.T) {
	router, _, jobStore := newTestRouter(t)

	id := submitAndWait(t, router, jobStore)

	job, err := jobStore.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Succeeded)
	assert.Equal(t, "bulk-operations", job.Type)
}

func TestSubmitJob_BadRequest(t *testing.T) {
	router, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing operations", `{"type":"x"}`},
		{"empty operations", `{"operations":[]}`},
		{"unknown kind", `{"operations":[{"kind":"nope","natural_key":"a"}]}`},
		{"blank natural key", `{"operations":[{"kind":"create-group","natural_key":""}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "BAD_REQUEST")
		})
	}
}

func TestGetJob(t *testing.T) {
	router, _, jobStore := newTestRouter(t)
	id := submitAndWait(t, router, jobStore)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data batch.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.Data.ID)
	assert.Len(t, resp.Data.Items, 1)
}

func TestGetJob_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestListJobs(t *testing.T) {
	router, _, jobStore := newTestRouter(t)
	submitAndWait(t, router, jobStore)
	submitAndWait(t, router, jobStore)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []batch.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)

	w = doRequest(router, http.MethodGet, "/api/v1/jobs?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)

	w = doRequest(router, http.MethodGet, "/api/v1/jobs?status=pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
}

func TestListJobs_BadQuery(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/jobs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown status")
}

func TestCancelJob(t *testing.T) {
	router, _, jobStore := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/jobs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := submitAndWait(t, router, jobStore)
	w = doRequest(router, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "JOB_TERMINAL")
}

func TestGetJobLogs(t *testing.T) {
	router, _, jobStore := newTestRouter(t)
	id := submitAndWait(t, router, jobStore)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/"+id+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []batch.LogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data)
	for _, entry := range resp.Data {
		assert.Equal(t, id, entry.JobID)
	}
}

func TestGetStats(t *testing.T) {
	router, _, jobStore := newTestRouter(t)
	submitAndWait(t, router, jobStore)

	w := doRequest(router, http.MethodGet, "/api/v1/jobs/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data map[batch.Status]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data[batch.StatusCompleted])
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
