package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/flowd/errors"
)

// Execution statuses reported by the pipeline engine per invocation.
const (
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Execution is the observational record of one pipeline invocation. A
// completed execution with zero failed steps is the durable proof that its
// job has been processed; it survives crashes and job-row mutations.
type Execution struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	ExecutedSteps int        `json:"executed_steps"`
	FailedSteps   int        `json:"failed_steps"`
	SkippedSteps  int        `json:"skipped_steps"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int64      `json:"duration_ms"`
}

// RecordExecution upserts the execution record mirrored from the pipeline
// response. Upserting by execution ID keeps a retried mirror write from
// duplicating the row.
func (s *Store) RecordExecution(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return errors.New("execution is nil")
	}
	if exec.ID == "" {
		return errors.New("execution ID is empty")
	}

	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO executions (
			id, job_id, status,
			executed_steps, failed_steps, skipped_steps,
			started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			executed_steps = excluded.executed_steps,
			failed_steps = excluded.failed_steps,
			skipped_steps = excluded.skipped_steps,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		exec.ID,
		exec.JobID,
		exec.Status,
		exec.ExecutedSteps,
		exec.FailedSteps,
		exec.SkippedSteps,
		exec.StartedAt,
		nullTime(exec.CompletedAt),
		exec.DurationMs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record execution")
	}

	return nil
}

// HasCompletedExecution reports whether a completed execution with zero
// failed steps exists for the job. This is the authoritative idempotency
// check; the in-memory completion cache only fronts it.
func (s *Store) HasCompletedExecution(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM executions
			WHERE job_id = ? AND status = ? AND failed_steps = 0
		)
	`, jobID, ExecutionStatusCompleted).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check completed executions")
	}

	return exists, nil
}

// ListExecutions returns the executions recorded for a job, newest first
func (s *Store) ListExecutions(ctx context.Context, jobID string) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, status,
			executed_steps, failed_steps, skipped_steps,
			started_at, completed_at, duration_ms
		FROM executions
		WHERE job_id = ?
		ORDER BY started_at DESC
	`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		var exec Execution
		var completedAt sql.NullTime
		if err := rows.Scan(
			&exec.ID,
			&exec.JobID,
			&exec.Status,
			&exec.ExecutedSteps,
			&exec.FailedSteps,
			&exec.SkippedSteps,
			&exec.StartedAt,
			&completedAt,
			&exec.DurationMs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}
		executions = append(executions, &exec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}

	return executions, nil
}
