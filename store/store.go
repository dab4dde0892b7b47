package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/flowd/db"
	"github.com/teranos/flowd/errors"
	"github.com/teranos/flowd/logger"
)

// Store handles persistence of jobs, executions, and system flags
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger

	// terminalRetryDelays separates the write attempts of MarkTerminal.
	// Shortened in tests.
	terminalRetryDelays []time.Duration
}

// NewStore creates a new job store
func NewStore(database *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{
		db:  database,
		log: log,
		terminalRetryDelays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
		},
	}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	responses, userData, err := marshalJobPayloads(job)
	if err != nil {
		return err
	}

	if job.Status == "" {
		job.Status = JobStatusQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	query := `
		INSERT INTO jobs (
			id, session_id, mode, responses, user_data,
			status, worker_id, error, batch_id, file_name,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.SessionID,
		job.Mode,
		responses,
		userData,
		job.Status,
		sql.NullString{String: job.WorkerID, Valid: job.WorkerID != ""},
		sql.NullString{String: job.Error, Valid: job.Error != ""},
		sql.NullString{String: job.BatchID, Valid: job.BatchID != ""},
		sql.NullString{String: job.FileName, Valid: job.FileName != ""},
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.CompletedAt),
	)

	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	var job Job
	args := GetJobScanArgs()
	targets := GetJobScanTargets(&job, args)

	err := s.db.QueryRowContext(ctx, query, id).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	if err := ProcessJobScanArgs(&job, args); err != nil {
		return nil, err
	}

	return &job, nil
}

// FetchQueued returns queued jobs in arrival order, optionally restricted
// to a single pipeline mode
func (s *Store) FetchQueued(ctx context.Context, limit int, modeFilter string) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE status = ?`
	if modeFilter != "" {
		query = baseQuery + ` AND mode = ? ORDER BY created_at ASC LIMIT ?`
		args = []interface{}{JobStatusQueued, modeFilter, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at ASC LIMIT ?`
		args = []interface{}{JobStatusQueued, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch queued jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "queued jobs")
}

// FetchBatchQueued returns queued batch jobs in arrival order. Batch jobs
// are sourced from this store rather than the frontend, so the mode filter
// is applied here.
func (s *Store) FetchBatchQueued(ctx context.Context, limit int, modeFilter string) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = ? AND batch_id IS NOT NULL AND batch_id != ''`
	if modeFilter != "" {
		query = baseQuery + ` AND mode = ? ORDER BY created_at ASC LIMIT ?`
		args = []interface{}{JobStatusQueued, modeFilter, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at ASC LIMIT ?`
		args = []interface{}{JobStatusQueued, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch batch jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "batch jobs")
}

// ClaimJob atomically acquires exclusive ownership of a job. Within one
// transaction: a job absent from the store is inserted from the snapshot
// as processing and owned; a queued, unowned job is conditionally updated.
// At most one concurrent caller wins; everyone else gets false.
func (s *Store) ClaimJob(ctx context.Context, jobID string, snapshot *Job, workerID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var current JobStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if snapshot == nil {
			return false, errors.AssertionFailedf("claim of unknown job %s without snapshot", jobID)
		}
		inserted, err := s.insertClaimedJob(ctx, tx, snapshot, workerID, now)
		if err != nil || !inserted {
			return false, err
		}
	case err != nil:
		return false, errors.Wrap(err, "failed to look up job for claim")
	default:
		result, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = ?, worker_id = ?, updated_at = ?
			WHERE id = ? AND status = ? AND worker_id IS NULL
		`, JobStatusProcessing, workerID, now, jobID, JobStatusQueued)
		if err != nil {
			return false, errors.Wrap(err, "failed to claim job")
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, errors.Wrap(err, "failed to get rows affected")
		}
		if affected != 1 {
			s.log.Debugw("Job claim lost to another worker",
				logger.FieldJobID, jobID,
				logger.FieldStatus, current)
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit claim")
	}

	return true, nil
}

// insertClaimedJob inserts a job from a frontend snapshot already owned by
// workerID. A unique violation means a concurrent worker inserted the row
// first, which loses the claim without error.
func (s *Store) insertClaimedJob(ctx context.Context, tx *sql.Tx, snapshot *Job, workerID string, now time.Time) (bool, error) {
	responses, userData, err := marshalJobPayloads(snapshot)
	if err != nil {
		return false, err
	}

	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, session_id, mode, responses, user_data,
			status, worker_id, batch_id, file_name,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snapshot.ID,
		snapshot.SessionID,
		snapshot.Mode,
		responses,
		userData,
		JobStatusProcessing,
		workerID,
		sql.NullString{String: snapshot.BatchID, Valid: snapshot.BatchID != ""},
		sql.NullString{String: snapshot.FileName, Valid: snapshot.FileName != ""},
		createdAt,
		now,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			s.log.Debugw("Job claim lost to a concurrent insert",
				logger.FieldJobID, snapshot.ID)
			return false, nil
		}
		return false, errors.Wrap(err, "failed to insert claimed job")
	}

	return true, nil
}

// MarkTerminal writes a job's final status, clearing ownership. Terminal
// updates are critical path: each delay in terminalRetryDelays separates
// one more attempt before the job is left in processing for the recoverer.
func (s *Store) MarkTerminal(ctx context.Context, jobID string, status JobStatus, errMsg string, completedAt time.Time) error {
	var lastErr error
	for attempt := 0; attempt <= len(s.terminalRetryDelays); attempt++ {
		if attempt > 0 {
			delay := s.terminalRetryDelays[attempt-1]
			s.log.Warnw("Retrying job terminal update",
				logger.FieldJobID, jobID,
				logger.FieldAttempt, attempt,
				"delay", delay,
				logger.FieldError, lastErr)

			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "terminal update cancelled")
			case <-time.After(delay):
			}
		}

		if err := s.markTerminalOnce(ctx, jobID, status, errMsg, completedAt); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return errors.Wrapf(lastErr, "terminal update for job %s failed after %d attempts",
		jobID, len(s.terminalRetryDelays)+1)
}

// markTerminalOnce performs a single terminal write attempt. The stored
// status is compared against the transition graph inside the same
// transaction; invalid transitions are logged and still applied, because a
// stale-closure terminal update overrides any earlier state.
func (s *Store) markTerminalOnce(ctx context.Context, jobID string, status JobStatus, errMsg string, completedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin terminal transaction")
	}
	defer tx.Rollback()

	var current JobStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(err, "failed to look up job for terminal update")
	}
	if err == nil && !ValidTransition(current, status) {
		s.log.Warnw("Invalid job status transition",
			logger.FieldJobID, jobID,
			logger.FieldFromStatus, current,
			logger.FieldToStatus, status)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, worker_id = NULL, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		status,
		sql.NullString{String: errMsg, Valid: errMsg != ""},
		completedAt.UTC(),
		time.Now().UTC(),
		jobID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to write terminal status")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("job not found: %s", jobID)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit terminal update")
	}

	return nil
}

// Touch bumps a job's updated_at without touching status. The heartbeater
// calls this; failures are logged by the caller, never propagated.
func (s *Store) Touch(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to touch job")
	}
	return nil
}

// FindStuckProcessing returns processing jobs whose updated_at is older
// than the cutoff. By contract those jobs are abandoned: their owner has
// missed every heartbeat for the whole runtime cap.
func (s *Store) FindStuckProcessing(ctx context.Context, olderThan time.Time) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC`

	rows, err := s.db.QueryContext(ctx, query, JobStatusProcessing, olderThan.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stuck jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "stuck jobs")
}

// ResetToQueued releases a job back to the queue, clearing ownership. Used
// by the recoverer and by shutdown-on-timeout.
func (s *Store) ResetToQueued(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin reset transaction")
	}
	defer tx.Rollback()

	var current JobStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("job not found: %s", jobID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to look up job for reset")
	}

	if !ValidTransition(current, JobStatusQueued) {
		s.log.Warnw("Invalid job status transition",
			logger.FieldJobID, jobID,
			logger.FieldFromStatus, current,
			logger.FieldToStatus, JobStatusQueued)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, worker_id = NULL, updated_at = ?
		WHERE id = ?
	`, JobStatusQueued, time.Now().UTC(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to reset job")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit reset")
	}

	return nil
}

// CountActive returns the number of jobs that are queued or processing
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`,
		JobStatusQueued, JobStatusProcessing).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count active jobs")
	}
	return count, nil
}

// CountByStatus returns job counts grouped by status
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}

	return counts, nil
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// marshalJobPayloads converts the opaque responses and user data payloads
// to their nullable JSON column forms.
func marshalJobPayloads(job *Job) (sql.NullString, sql.NullString, error) {
	var responses sql.NullString
	if !job.Responses.IsZero() {
		text, err := job.Responses.JSONString()
		if err != nil {
			return responses, sql.NullString{}, err
		}
		responses = sql.NullString{String: text, Valid: true}
	}

	var userData sql.NullString
	if len(job.UserData) > 0 {
		data, err := json.Marshal(job.UserData)
		if err != nil {
			return responses, userData, errors.Wrap(err, "failed to marshal user data")
		}
		userData = sql.NullString{String: string(data), Valid: true}
	}

	return responses, userData, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
