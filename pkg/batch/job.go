package batch

import (
	"time"
)

// Status is the lifecycle state of a job. Transitions only move forward:
// pending -> running -> {completed, failed, cancelled}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a forward
// transition.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed || next == StatusCancelled
	case StatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Outcome is the terminal result of one item.
type Outcome string

const (
	// OutcomeSuccess means the remote call succeeded.
	OutcomeSuccess Outcome = "success"

	// OutcomeSkipped means the resource already existed (or, for a
	// delete, was already absent) and no call was made.
	OutcomeSkipped Outcome = "skipped-existing"

	// OutcomeFailed means the item terminally failed: a client error, an
	// exhausted retry budget, or a failed dependency.
	OutcomeFailed Outcome = "failed"
)

// ItemResult is the immutable terminal record of one item. Appended once,
// never edited.
type ItemResult struct {
	Index      int                 `json:"index"`
	Operation  OperationDescriptor `json:"operation"`
	Outcome    Outcome             `json:"outcome"`
	ResourceID string              `json:"resource_id,omitempty"`
	Error      string              `json:"error,omitempty"`
	Attempts   int                 `json:"attempts"`
	FinishedAt time.Time           `json:"finished_at"`
}

// LogEntry is one append-only job log line.
type LogEntry struct {
	JobID     string    `json:"job_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the durable bookkeeping record for one submitted batch.
// Invariants: Processed == Succeeded + Failed + Skipped and
// Processed <= Total at all times.
type Job struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	Status    Status       `json:"status"`
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Items     []ItemResult `json:"items,omitempty"`
}

// ApplyItem appends an item result and bumps the aggregate counters in one
// step, keeping the counter invariant intact.
func (j *Job) ApplyItem(item ItemResult) {
	j.Items = append(j.Items, item)
	j.Processed++
	switch item.Outcome {
	case OutcomeSuccess:
		j.Succeeded++
	case OutcomeSkipped:
		j.Skipped++
	case OutcomeFailed:
		j.Failed++
	}
	j.UpdatedAt = time.Now()
}

// FailedOperations returns the descriptors of all failed items, for
// re-submission as a new, smaller batch.
func FailedOperations(j *Job) []OperationDescriptor {
	var ops []OperationDescriptor
	for _, item := range j.Items {
		if item.Outcome == OutcomeFailed {
			ops = append(ops, item.Operation)
		}
	}
	return ops
}
