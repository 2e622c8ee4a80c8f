package batch

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a mutation targets a job that has
	// already reached an end state.
	ErrJobTerminal = errors.New("job already terminal")

	// ErrInvalidTransition is returned for a backwards status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobFilter narrows a job listing. Zero fields match everything.
type JobFilter struct {
	Status Status
	Type   string
	Limit  int
}

// Store is the persistence boundary for jobs. It is the single source of
// truth for job state across process restarts. Implementations must support
// concurrent AppendItem/AppendLog calls from multiple workers of the same
// job; summary fields are last-writer-wins, items and logs are append-only.
type Store interface {
	// CreateJob persists a new job record.
	CreateJob(ctx context.Context, job *Job) error

	// UpdateJobStatus moves a job to a new status, enforcing forward-only
	// transitions.
	UpdateJobStatus(ctx context.Context, jobID string, status Status) error

	// AppendItem records one immutable item result and bumps the job's
	// aggregate counters atomically.
	AppendItem(ctx context.Context, jobID string, item ItemResult) error

	// AppendLog records one job log line.
	AppendLog(ctx context.Context, entry LogEntry) error

	// GetJob returns a job with its items.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs returns job summaries (no items), newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// Logs returns a job's log lines in order.
	Logs(ctx context.Context, jobID string) ([]LogEntry, error)

	// Stats returns job counts by status.
	Stats(ctx context.Context) (map[Status]int, error)

	// Close releases store resources.
	Close() error
}
