package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"calsync/internal/models"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const jobColumns = `id, user_id, task_id, list_id, job_type, priority, payload, dedupe_key,
        status, attempt_count, max_attempts, run_after, last_error, locked_at, created_at, updated_at`

// Enqueue inserts a job. When the job carries a dedupe key and an identical
// (job_type, dedupe_key) row already exists, the insert is silently dropped:
// idempotent enqueue treats the constraint violation as success.
func (db *DB) Enqueue(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}
	if job.Payload == "" {
		job.Payload = "{}"
	}
	now := time.Now().UTC()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}

	query := `INSERT INTO jobs (user_id, task_id, list_id, job_type, priority, payload, dedupe_key,
                  status, attempt_count, max_attempts, run_after, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.db.ExecContext(ctx, query,
		job.UserID,
		job.TaskID,
		job.ListID,
		job.JobType,
		job.Priority,
		job.Payload,
		job.DedupeKey,
		job.Status,
		job.AttemptCount,
		job.MaxAttempts,
		job.RunAfter,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	job.ID = id
	job.CreatedAt = now

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Claim atomically moves up to batch due jobs from pending/failed to running
// and returns them. The per-row guarded UPDATE is the compare-and-swap that
// keeps two concurrent claimers from holding the same job. An optional
// userID scopes the claim to one user's jobs.
func (db *DB) Claim(ctx context.Context, batch int, userID string) ([]models.Job, error) {
	if batch <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	query := `SELECT id FROM jobs
              WHERE status IN ('pending', 'failed') AND run_after <= ?`
	args := []interface{}{now}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY priority DESC, run_after ASC LIMIT ?`
	args = append(args, batch)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []models.Job
	for _, id := range ids {
		result, err := db.db.ExecContext(ctx,
			`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ?
             WHERE id = ? AND status IN ('pending', 'failed')`,
			now, now, id)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim job %d: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if affected == 0 {
			// Lost the race to another claimer.
			continue
		}

		job, err := db.GetJob(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, *job)
	}

	return claimed, nil
}

// Complete marks a running job done and releases its lock.
func (db *DB) Complete(ctx context.Context, jobID int64) error {
	now := time.Now().UTC()
	_, err := db.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`,
		now, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", jobID, err)
	}
	return nil
}

// Fail records the error, bumps the attempt counter and reschedules the job
// after retryDelay. Once attempts are exhausted the job settles to dead and
// is never retried automatically.
func (db *DB) Fail(ctx context.Context, jobID int64, errMsg string, retryDelay time.Duration) error {
	now := time.Now().UTC()
	query := `UPDATE jobs SET
                attempt_count = attempt_count + 1,
                status = CASE WHEN attempt_count + 1 >= max_attempts THEN 'dead' ELSE 'failed' END,
                run_after = ?,
                last_error = ?,
                locked_at = NULL,
                updated_at = ?
              WHERE id = ?`
	_, err := db.db.ExecContext(ctx, query, now.Add(retryDelay), errMsg, now, jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job %d: %w", jobID, err)
	}
	return nil
}

// GetJob returns a job by id.
func (db *DB) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// DeadJobs returns jobs that exhausted their retries, newest first.
func (db *DB) DeadJobs(ctx context.Context) ([]models.Job, error) {
	return db.jobsByStatus(ctx, models.JobStatusDead)
}

// FailedJobs returns jobs awaiting retry, newest first.
func (db *DB) FailedJobs(ctx context.Context) ([]models.Job, error) {
	return db.jobsByStatus(ctx, models.JobStatusFailed)
}

func (db *DB) jobsByStatus(ctx context.Context, status string) ([]models.Job, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s jobs: %w", status, err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// PurgeJobs removes settled jobs (done or dead) older than the cutoff.
func (db *DB) PurgeJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ('done', 'dead') AND updated_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job       models.Job
		taskID    sql.NullString
		listID    sql.NullString
		dedupeKey sql.NullString
		lastError sql.NullString
		lockedAt  sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&taskID,
		&listID,
		&job.JobType,
		&job.Priority,
		&job.Payload,
		&dedupeKey,
		&job.Status,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.RunAfter,
		&lastError,
		&lockedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if taskID.Valid {
		job.TaskID = &taskID.String
	}
	if listID.Valid {
		job.ListID = &listID.String
	}
	if dedupeKey.Valid {
		job.DedupeKey = &dedupeKey.String
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if lockedAt.Valid {
		job.LockedAt = &lockedAt.Time
	}
	return &job, nil
}

// DedupeKey joins parts into a key that collapses bursts into one job.
func DedupeKey(parts ...string) *string {
	key := strings.Join(parts, ":")
	return &key
}
