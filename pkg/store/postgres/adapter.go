// Package postgres implements the job store on PostgreSQL, for deployments
// where several operators share one job history.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/forgeops/glbatch/pkg/batch"
)

// postgresStore implements batch.Store for PostgreSQL.
type postgresStore struct {
	db *sql.DB
}

// New opens (and migrates) a PostgreSQL-backed job store.
func New(connURL string) (batch.Store, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &postgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema.
func (s *postgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS job_items (
		job_id TEXT NOT NULL,
		item_index INTEGER NOT NULL,
		kind TEXT NOT NULL,
		natural_key TEXT NOT NULL,
		parent_ref TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL DEFAULT '{}',
		outcome TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		finished_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (job_id, item_index)
	);

	CREATE TABLE IF NOT EXISTS job_logs (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateJob persists a new job record.
func (s *postgresStore) CreateJob(ctx context.Context, job *batch.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, total, processed, succeeded, failed, skipped, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Type, string(job.Status), job.Total,
		job.Processed, job.Succeeded, job.Failed, job.Skipped,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job forward through its lifecycle. Row locking via
// SELECT FOR UPDATE serializes concurrent transitions.
func (s *postgresStore) UpdateJobStatus(ctx context.Context, jobID string, status batch.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}

	from := batch.Status(current)
	if from.Terminal() {
		return fmt.Errorf("%w: %s is %s", batch.ErrJobTerminal, jobID, from)
	}
	if !from.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", batch.ErrInvalidTransition, from, status)
	}

	_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return tx.Commit()
}

// AppendItem records one immutable item result and bumps the job counters in
// the same transaction.
func (s *postgresStore) AppendItem(ctx context.Context, jobID string, item batch.ItemResult) error {
	payload, err := json.Marshal(item.Operation.Payload)
	if err != nil {
		return fmt.Errorf("encode item payload: %w", err)
	}
	if item.Operation.Payload == nil {
		payload = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_items (job_id, item_index, kind, natural_key, parent_ref, payload, outcome, resource_id, error, attempts, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		jobID, item.Index, string(item.Operation.Kind), item.Operation.NaturalKey,
		item.Operation.ParentRef, string(payload), string(item.Outcome),
		item.ResourceID, item.Error, item.Attempts, item.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert item result: %w", err)
	}

	column := counterColumn(item.Outcome)
	result, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs SET processed = processed + 1, %s = %s + 1, updated_at = $1 WHERE id = $2`,
		column, column),
		time.Now(), jobID)
	if err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	return tx.Commit()
}

// AppendLog records one job log line.
func (s *postgresStore) AppendLog(ctx context.Context, entry batch.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, timestamp)
		VALUES ($1, $2, $3, $4)`,
		entry.JobID, entry.Level, entry.Message, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// GetJob returns a job with its items.
func (s *postgresStore) GetJob(ctx context.Context, jobID string) (*batch.Job, error) {
	job := &batch.Job{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, total, processed, succeeded, failed, skipped, created_at, updated_at
		FROM jobs WHERE id = $1`, jobID).
		Scan(&job.ID, &job.Type, &status, &job.Total, &job.Processed,
			&job.Succeeded, &job.Failed, &job.Skipped, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	job.Status = batch.Status(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_index, kind, natural_key, parent_ref, payload, outcome, resource_id, error, attempts, finished_at
		FROM job_items WHERE job_id = $1 ORDER BY item_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("read job items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item batch.ItemResult
		var kind, payload, outcome string
		if err := rows.Scan(&item.Index, &kind, &item.Operation.NaturalKey,
			&item.Operation.ParentRef, &payload, &outcome,
			&item.ResourceID, &item.Error, &item.Attempts, &item.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan item result: %w", err)
		}
		item.Operation.Kind = batch.Kind(kind)
		item.Outcome = batch.Outcome(outcome)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &item.Operation.Payload); err != nil {
				return nil, fmt.Errorf("decode item payload: %w", err)
			}
		}
		job.Items = append(job.Items, item)
	}
	return job, rows.Err()
}

// ListJobs returns job summaries, newest first.
func (s *postgresStore) ListJobs(ctx context.Context, filter batch.JobFilter) ([]*batch.Job, error) {
	query := `
		SELECT id, type, status, total, processed, succeeded, failed, skipped, created_at, updated_at
		FROM jobs WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Type != "" {
		query += ` AND type = ` + arg(filter.Type)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*batch.Job
	for rows.Next() {
		job := &batch.Job{}
		var status string
		if err := rows.Scan(&job.ID, &job.Type, &status, &job.Total, &job.Processed,
			&job.Succeeded, &job.Failed, &job.Skipped, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Status = batch.Status(status)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Logs returns a job's log lines in order.
func (s *postgresStore) Logs(ctx context.Context, jobID string) ([]batch.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, level, message, timestamp
		FROM job_logs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("read job logs: %w", err)
	}
	defer rows.Close()

	var entries []batch.LogEntry
	for rows.Next() {
		var entry batch.LogEntry
		if err := rows.Scan(&entry.JobID, &entry.Level, &entry.Message, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats returns job counts by status.
func (s *postgresStore) Stats(ctx context.Context) (map[batch.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[batch.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats[batch.Status(status)] = count
	}
	return stats, rows.Err()
}

// Close closes the database.
func (s *postgresStore) Close() error {
	return s.db.Close()
}

// counterColumn maps an outcome to the jobs counter it bumps.
func counterColumn(outcome batch.Outcome) string {
	switch outcome {
	case batch.OutcomeSuccess:
		return "succeeded"
	case batch.OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}
