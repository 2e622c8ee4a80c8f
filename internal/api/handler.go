// Package api exposes the batch engine over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/forgeops/glbatch/pkg/batch"
)

// Handler handles API requests
type Handler struct {
	orchestrator *batch.Orchestrator
	store        batch.Store

	// defaultConcurrency applies when a submission leaves concurrency unset.
	defaultConcurrency int
}

// NewHandler creates a new API handler
func NewHandler(orch *batch.Orchestrator, store batch.Store, defaultConcurrency int) *Handler {
	return &Handler{
		orchestrator:       orch,
		store:              store,
		defaultConcurrency: defaultConcurrency,
	}
}

// SubmitJobRequest is the body of a job submission.
type SubmitJobRequest struct {
	Type             string                      `json:"type"`
	Operations       []batch.OperationDescriptor `json:"operations" binding:"required"`
	Concurrency      int                         `json:"concurrency"`
	StopOnFirstError bool                        `json:"stop_on_first_error"`
	DryRun           bool                        `json:"dry_run"`
}

// SubmitJob accepts a batch of operations and starts a job.
// POST /api/v1/jobs
func (h *Handler) SubmitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	if req.Concurrency == 0 {
		req.Concurrency = h.defaultConcurrency
	}

	job, err := h.orchestrator.Submit(c.Request.Context(), req.Operations, batch.Options{
		Type:             req.Type,
		Concurrency:      req.Concurrency,
		StopOnFirstError: req.StopOnFirstError,
		DryRun:           req.DryRun,
	})
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": job,
	})
}

// GetJob returns a job with its item results.
// GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.orchestrator.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": job,
	})
}

// ListJobs returns job summaries, newest first.
// GET /api/v1/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	filter := batch.JobFilter{
		Status: batch.Status(c.Query("status")),
		Type:   c.Query("type"),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondBadRequest(c, "unknown status: "+string(filter.Status))
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": jobs,
	})
}

// CancelJob requests cooperative cancellation of a running job.
// POST /api/v1/jobs/:id/cancel
func (h *Handler) CancelJob(c *gin.Context) {
	if err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": gin.H{"status": "cancelling"},
	})
}

// GetJobLogs returns a job's log lines in order.
// GET /api/v1/jobs/:id/logs
func (h *Handler) GetJobLogs(c *gin.Context) {
	logs, err := h.store.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": logs,
	})
}

// GetStats returns job counts by status.
// GET /api/v1/jobs/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
	})
}

// StreamJobEvents streams job progress as server-sent events until the job
// finishes or the client disconnects.
// GET /api/v1/jobs/:id/events
func (h *Handler) StreamJobEvents(c *gin.Context) {
	events, cancel, err := h.orchestrator.Subscribe(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("progress", ev)
			return !ev.Status.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// HealthCheck reports service liveness.
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError maps store errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, batch.ErrJobNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, batch.ErrJobTerminal):
		status = http.StatusConflict
		code = "JOB_TERMINAL"
	case errors.Is(err, batch.ErrInvalidTransition):
		status = http.StatusConflict
		code = "INVALID_TRANSITION"
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "BAD_REQUEST",
			"message": message,
		},
	})
}
