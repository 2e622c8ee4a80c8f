// Package store provides JobStore backends. The in-memory store backs tests
// and the local CLI run mode; sqlite and postgres subpackages persist jobs
// across restarts.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgeops/glbatch/pkg/batch"
)

// MemoryStore is a thread-safe in-process job store.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*batch.Job
	logs  map[string][]batch.LogEntry
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*batch.Job),
		logs: make(map[string][]batch.LogEntry),
	}
}

// CreateJob persists a new job record.
func (s *MemoryStore) CreateJob(_ context.Context, job *batch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	stored := copyJob(job)
	s.jobs[job.ID] = stored
	s.order = append(s.order, job.ID)
	return nil
}

// UpdateJobStatus moves a job forward through its lifecycle.
func (s *MemoryStore) UpdateJobStatus(_ context.Context, jobID string, status batch.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", batch.ErrJobTerminal, jobID, job.Status)
	}
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", batch.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return nil
}

// AppendItem records one immutable item result and bumps the counters.
func (s *MemoryStore) AppendItem(_ context.Context, jobID string, item batch.ItemResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	for _, existing := range job.Items {
		if existing.Index == item.Index {
			return fmt.Errorf("item %d of job %s already recorded", item.Index, jobID)
		}
	}
	job.ApplyItem(item)
	return nil
}

// AppendLog records one job log line.
func (s *MemoryStore) AppendLog(_ context.Context, entry batch.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[entry.JobID]; !ok {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, entry.JobID)
	}
	s.logs[entry.JobID] = append(s.logs[entry.JobID], entry)
	return nil
}

// GetJob returns a copy of a job with its items.
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*batch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	return copyJob(job), nil
}

// ListJobs returns job summaries, newest first.
func (s *MemoryStore) ListJobs(_ context.Context, filter batch.JobFilter) ([]*batch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*batch.Job
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		summary := copyJob(job)
		summary.Items = nil
		out = append(out, summary)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Logs returns a job's log lines in order.
func (s *MemoryStore) Logs(_ context.Context, jobID string) ([]batch.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	entries := make([]batch.LogEntry, len(s.logs[jobID]))
	copy(entries, s.logs[jobID])
	return entries, nil
}

// Stats returns job counts by status.
func (s *MemoryStore) Stats(_ context.Context) (map[batch.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[batch.Status]int)
	for _, job := range s.jobs {
		stats[job.Status]++
	}
	return stats, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// copyJob deep-copies a job so callers cannot mutate stored state.
func copyJob(job *batch.Job) *batch.Job {
	out := *job
	if job.Items != nil {
		out.Items = make([]batch.ItemResult, len(job.Items))
		copy(out.Items, job.Items)
	}
	return &out
}
