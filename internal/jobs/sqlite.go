package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/chatkeep/pkg/types"
)

// jobSchema is the durable queue table. Idempotent so it can be applied on
// every start.
const jobSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    payload TEXT NOT NULL,
    record_id TEXT,
    error TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    claimed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created
    ON jobs(status, created_at);
`

// SQLiteQueue implements Queue on a local SQLite database. The file-backed
// queue survives restarts; jobs that were claimed but never finished are
// reclaimed by the worker after a visibility timeout.
type SQLiteQueue struct {
	db *sql.DB
}

// NewSQLiteQueue opens (or creates) the queue database at dsn.
// Use ":memory:" for an ephemeral queue in tests.
func NewSQLiteQueue(dsn string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobs: failed to open queue database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(jobSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: failed to create schema: %w", err)
	}

	return &SQLiteQueue{db: db}, nil
}

// Enqueue records a new pending job and returns its ID.
func (q *SQLiteQueue) Enqueue(ctx context.Context, payload types.JobPayload) (string, error) {
	if payload.OwnerID == "" {
		return "", fmt.Errorf("jobs: payload owner is required")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, payload.OwnerID, string(types.JobPending), string(payloadJSON), now, now)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
	}

	return id, nil
}

// GetStatus returns the current job state.
func (q *SQLiteQueue) GetStatus(ctx context.Context, jobID string) (*types.Job, error) {
	if jobID == "" {
		return nil, ErrJobNotFound
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT id, owner_id, status, payload, record_id, error, attempts, created_at, updated_at
		FROM jobs WHERE id = ?
	`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("jobs: failed to get status: %w", err)
	}
	return job, nil
}

// claimNext atomically claims the oldest pending job for processing.
// Jobs claimed longer than visibility ago are considered abandoned and may
// be reclaimed. Returns (nil, nil) when the queue is empty.
func (q *SQLiteQueue) claimNext(ctx context.Context, visibility time.Duration) (*types.Job, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-visibility)

	// The single-connection pool makes this select-then-update effectively
	// atomic; no other writer can interleave between the two statements.
	row := q.db.QueryRowContext(ctx, `
		SELECT id, owner_id, status, payload, record_id, error, attempts, created_at, updated_at
		FROM jobs
		WHERE status = ? AND (claimed_at IS NULL OR claimed_at < ?)
		ORDER BY created_at
		LIMIT 1
	`, string(types.JobPending), cutoff)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: failed to claim job: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		UPDATE jobs SET claimed_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ?
	`, now, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("jobs: failed to mark job claimed: %w", err)
	}

	job.Attempts++
	return job, nil
}

// markComplete transitions a job to its terminal complete state.
func (q *SQLiteQueue) markComplete(ctx context.Context, jobID, recordID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, record_id = ?, updated_at = ?
		WHERE id = ?
	`, string(types.JobComplete), recordID, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("jobs: failed to mark complete: %w", err)
	}
	return nil
}

// markFailed transitions a job to its terminal failed state.
func (q *SQLiteQueue) markFailed(ctx context.Context, jobID, message string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, string(types.JobFailed), message, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("jobs: failed to mark failed: %w", err)
	}
	return nil
}

// requeue returns a claimed job to the pending pool for another attempt.
func (q *SQLiteQueue) requeue(ctx context.Context, jobID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET claimed_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("jobs: failed to requeue: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (q *SQLiteQueue) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}

// scanJob reads a job row in the shared column order.
func scanJob(row interface{ Scan(...interface{}) error }) (*types.Job, error) {
	var (
		job         types.Job
		status      string
		payloadJSON string
		recordID    sql.NullString
		errMsg      sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&payloadJSON,
		&recordID,
		&errMsg,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = types.JobStatus(status)
	job.RecordID = recordID.String
	job.Error = errMsg.String

	if err := json.Unmarshal([]byte(payloadJSON), &job.Payload); err != nil {
		return nil, fmt.Errorf("jobs: failed to unmarshal payload: %w", err)
	}

	return &job, nil
}
