package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forgeops/glbatch/pkg/client"
)

// Prometheus metrics for batch execution.
var (
	glbatchJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glbatch_jobs_total",
		Help: "Total finished jobs by final status",
	}, []string{"status"})

	glbatchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glbatch_items_total",
		Help: "Total processed items by outcome",
	}, []string{"outcome"})

	glbatchActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "glbatch_active_jobs",
		Help: "Number of jobs currently running",
	})

	glbatchJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "glbatch_job_duration_seconds",
		Help:    "Wall time of finished jobs",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)

// Resolution is the answer of an idempotency lookup.
type Resolution struct {
	Exists     bool
	ResourceID string
}

// Resolver decides whether a resource with the given natural key already
// exists under a parent. Implementations are read-only and safe to call
// repeatedly.
type Resolver interface {
	Resolve(ctx context.Context, kind Kind, naturalKey, parentRef string) (Resolution, error)
}

// Executor is the single-request surface the orchestrator needs from the
// forge client.
type Executor interface {
	ExecuteWith(ctx context.Context, policy client.RetryPolicy, method, path string, body any) (*client.Response, error)
}

// Options configures one batch submission.
type Options struct {
	// Concurrency is the worker pool size (default 5).
	Concurrency int

	// StopOnFirstError suppresses further dispatch after the first failed
	// item; the job ends as failed once in-flight items drain.
	StopOnFirstError bool

	// Retry overrides the client's retry policy for this batch. Zero
	// fields fall back to defaults.
	Retry client.RetryPolicy

	// DryRun resolves every item but issues no writes.
	DryRun bool

	// Type labels the job (default "bulk-operations").
	Type string
}

// activeJob tracks a running job's cancellation handle.
type activeJob struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Orchestrator runs batches of operations under bounded concurrency and
// records their progress in the job store.
type Orchestrator struct {
	executor Executor
	resolver Resolver
	store    Store
	logger   zerolog.Logger
	events   *broadcaster

	mu     sync.Mutex
	active map[string]*activeJob
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(executor Executor, resolver Resolver, store Store) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		resolver: resolver,
		store:    store,
		logger:   log.With().Str("component", "orchestrator").Logger(),
		events:   newBroadcaster(),
		active:   make(map[string]*activeJob),
	}
}

// Submit validates the operation list, persists a new job, and starts
// processing it in the background. Only setup errors fail Submit; per-item
// failures are recorded on the job.
func (o *Orchestrator) Submit(ctx context.Context, ops []OperationDescriptor, opts Options) (*Job, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("operation list is empty")
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
	}
	pl, err := buildPlan(ops)
	if err != nil {
		return nil, err
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Type == "" {
		opts.Type = "bulk-operations"
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Type:      opts.Type,
		Status:    StatusPending,
		Total:     len(ops),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &activeJob{cancel: cancel}

	o.mu.Lock()
	o.active[job.ID] = handle
	o.mu.Unlock()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("type", job.Type).
		Int("total", job.Total).
		Int("concurrency", opts.Concurrency).
		Bool("dry_run", opts.DryRun).
		Msg("Job submitted")

	o.wg.Add(1)
	go o.run(runCtx, handle, job, pl, opts)

	snapshot := *job
	return &snapshot, nil
}

// GetJob returns the persisted state of a job. Jobs created by a previous
// process are served the same way; the store is the source of truth.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// Cancel requests cooperative cancellation of a running job. In-flight items
// finish and are recorded normally; no new items are dispatched. A job left
// behind by a crashed process is marked cancelled directly in the store.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	handle, ok := o.active[jobID]
	o.mu.Unlock()

	if ok {
		handle.cancelled.Store(true)
		handle.cancel()
		o.logger.Info().Str("job_id", jobID).Msg("Cancellation requested")
		return nil
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, job.Status)
	}
	// Orphaned by a crash: no worker will ever touch it again.
	return o.store.UpdateJobStatus(ctx, jobID, StatusCancelled)
}

// Subscribe streams progress events for a job. The channel closes when the
// job finishes; the cancel function detaches early. Events are at-least-once
// per item; consumers must tolerate duplicates.
func (o *Orchestrator) Subscribe(ctx context.Context, jobID string) (<-chan ProgressEvent, func(), error) {
	if _, err := o.store.GetJob(ctx, jobID); err != nil {
		return nil, nil, err
	}
	ch, cancel := o.events.subscribe(jobID)
	return ch, cancel, nil
}

// Wait blocks until all background jobs have finished. Used at shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// workerResult is what a worker reports for one dequeued node. undispatched
// marks a node that was pulled after cancellation and never processed.
type workerResult struct {
	node         *node
	item         ItemResult
	undispatched bool
}

// run drives one job to a terminal status.
func (o *Orchestrator) run(ctx context.Context, handle *activeJob, job *Job, pl *plan, opts Options) {
	defer o.wg.Done()

	// Store writes must survive job cancellation.
	bg := context.WithoutCancel(ctx)
	start := time.Now()
	logger := o.logger.With().Str("job_id", job.ID).Logger()

	glbatchActiveJobs.Inc()
	defer glbatchActiveJobs.Dec()

	if err := o.store.UpdateJobStatus(bg, job.ID, StatusRunning); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job running")
	}
	job.Status = StatusRunning

	queue := make(chan *node, len(pl.nodes))
	results := make(chan workerResult, len(pl.nodes))

	var workers sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for n := range queue {
				if ctx.Err() != nil {
					results <- workerResult{node: n, undispatched: true}
					continue
				}
				results <- workerResult{node: n, item: o.processItem(ctx, logger, n, opts)}
			}
		}()
	}

	inFlight := 0
	stopped := false
	enqueue := func(n *node) {
		inFlight++
		queue <- n
	}
	for _, n := range pl.roots() {
		enqueue(n)
	}

	record := func(item ItemResult) {
		if err := o.store.AppendItem(bg, job.ID, item); err != nil {
			logger.Error().Err(err).Int("item_index", item.Index).Msg("Failed to persist item result")
		}
		job.ApplyItem(item)
		glbatchItemsTotal.WithLabelValues(string(item.Outcome)).Inc()

		level := "info"
		if item.Outcome == OutcomeFailed {
			level = "error"
		}
		o.appendLog(bg, job.ID, level, fmt.Sprintf("%s %s: %s%s",
			item.Operation.Kind, item.Operation.NaturalKey, item.Outcome, errorSuffix(item.Error)))

		snapshot := item
		o.events.publish(ProgressEvent{
			JobID:     job.ID,
			Status:    job.Status,
			Processed: job.Processed,
			Total:     job.Total,
			LastItem:  &snapshot,
		})
	}

	// failDescendants records DependencyFailed outcomes for the whole
	// subtree of a failed parent; none of them are ever dispatched.
	var failDescendants func(n *node, reason string)
	failDescendants = func(n *node, reason string) {
		for _, ci := range n.children {
			child := pl.nodes[ci]
			record(ItemResult{
				Index:      child.index,
				Operation:  child.op,
				Outcome:    OutcomeFailed,
				Error:      reason,
				FinishedAt: time.Now(),
			})
			failDescendants(child, fmt.Sprintf("dependency failed: %s %q did not succeed",
				child.op.Kind, child.op.NaturalKey))
		}
	}

	for inFlight > 0 {
		out := <-results
		inFlight--

		if out.undispatched {
			continue
		}

		record(out.item)
		n := out.node

		if out.item.Outcome == OutcomeFailed {
			if opts.StopOnFirstError && !stopped {
				stopped = true
				handle.cancel()
				logger.Warn().Int("item_index", n.index).Msg("Stopping dispatch after first error")
			}
			failDescendants(n, fmt.Sprintf("dependency failed: %s %q did not succeed",
				n.op.Kind, n.op.NaturalKey))
			continue
		}

		for _, ci := range n.children {
			child := pl.nodes[ci]
			child.parentID = out.item.ResourceID
			child.pendingDeps--
			if child.pendingDeps == 0 && !stopped && ctx.Err() == nil {
				enqueue(child)
			}
		}
	}

	close(queue)
	workers.Wait()

	final := StatusCompleted
	switch {
	case stopped:
		final = StatusFailed
	case handle.cancelled.Load() || ctx.Err() != nil:
		final = StatusCancelled
	}

	if err := o.store.UpdateJobStatus(bg, job.ID, final); err != nil {
		logger.Error().Err(err).Str("status", string(final)).Msg("Failed to finalize job status")
	}
	job.Status = final

	o.events.publish(ProgressEvent{
		JobID:     job.ID,
		Status:    final,
		Processed: job.Processed,
		Total:     job.Total,
	})
	o.events.finish(job.ID)

	o.mu.Lock()
	delete(o.active, job.ID)
	o.mu.Unlock()

	glbatchJobsTotal.WithLabelValues(string(final)).Inc()
	glbatchJobDuration.Observe(time.Since(start).Seconds())

	o.appendLog(bg, job.ID, "info", fmt.Sprintf("job %s: %d/%d processed (%d succeeded, %d skipped, %d failed)",
		final, job.Processed, job.Total, job.Succeeded, job.Skipped, job.Failed))

	logger.Info().
		Str("status", string(final)).
		Int("processed", job.Processed).
		Int("succeeded", job.Succeeded).
		Int("skipped", job.Skipped).
		Int("failed", job.Failed).
		Dur("duration", time.Since(start)).
		Msg("Job finished")
}

// processItem takes one operation to a terminal ItemResult.
func (o *Orchestrator) processItem(ctx context.Context, logger zerolog.Logger, n *node, opts Options) ItemResult {
	op := n.op
	parentRef := op.ParentRef
	if n.parent >= 0 && n.parentID != "" {
		parentRef = n.parentID
	}

	logger.Debug().
		Int("item_index", n.index).
		Str("kind", string(op.Kind)).
		Str("natural_key", op.NaturalKey).
		Str("parent_ref", parentRef).
		Msg("Dispatching item")

	result := ItemResult{Index: n.index, Operation: op}

	res, err := o.resolver.Resolve(ctx, op.Kind, op.NaturalKey, parentRef)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = fmt.Sprintf("idempotency lookup: %v", err)
		result.Attempts = errAttempts(err)
		result.FinishedAt = time.Now()
		return result
	}

	switch {
	case op.Kind.Creates() && res.Exists:
		result.Outcome = OutcomeSkipped
		result.ResourceID = res.ResourceID
		result.FinishedAt = time.Now()
		return result
	case op.Kind == KindDelete && !res.Exists:
		result.Outcome = OutcomeSkipped
		result.FinishedAt = time.Now()
		return result
	case op.Kind == KindUpdate && !res.Exists:
		result.Outcome = OutcomeFailed
		result.Error = fmt.Sprintf("resource %q not found", op.NaturalKey)
		result.FinishedAt = time.Now()
		return result
	}

	if opts.DryRun {
		result.Outcome = OutcomeSuccess
		result.FinishedAt = time.Now()
		logger.Info().
			Int("item_index", n.index).
			Str("kind", string(op.Kind)).
			Str("natural_key", op.NaturalKey).
			Msg("Dry run - no call issued")
		return result
	}

	method, path, body := routeFor(op, parentRef)
	resp, err := o.executor.ExecuteWith(ctx, opts.Retry, method, path, body)
	result.FinishedAt = time.Now()

	switch {
	case err != nil:
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		result.Attempts = errAttempts(err)
	case resp.Success():
		result.Outcome = OutcomeSuccess
		result.Attempts = resp.Attempts
		if id := extractID(resp.Body); id != "" {
			result.ResourceID = id
		} else {
			result.ResourceID = res.ResourceID
		}
	default:
		// Non-429 4xx: invalid input or missing permission; the remote's
		// error body is surfaced verbatim.
		result.Outcome = OutcomeFailed
		result.Error = string(resp.Body)
		result.Attempts = resp.Attempts
	}
	return result
}

// appendLog writes one job log line, best-effort.
func (o *Orchestrator) appendLog(ctx context.Context, jobID, level, message string) {
	entry := LogEntry{
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := o.store.AppendLog(ctx, entry); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append job log")
	}
}

// errAttempts extracts the attempt count from a terminal client error.
func errAttempts(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Attempts
	}
	return 0
}

// errorSuffix formats an error for a log line.
func errorSuffix(msg string) string {
	if msg == "" {
		return ""
	}
	return ": " + msg
}

// extractID reads the "id" field out of an opaque remote response body.
func extractID(body []byte) string {
	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil {
		return ""
	}
	switch v := record["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
