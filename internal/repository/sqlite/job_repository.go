package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/repository"
)

const jobColumns = `id, name, payload, status, priority, attempts, max_attempts, run_at,
last_error, completed_at, cron_expr, timezone, created_at, updated_at`

func scanJob(row scanner) (*entity.Job, error) {
	var (
		j                           entity.Job
		payload, status             string
		lastErr, cronExpr, tz       sql.NullString
		runAt, createdAt, updatedAt int64
		completedAt                 sql.NullInt64
	)
	if err := row.Scan(
		&j.ID, &j.Name, &payload, &status, &j.Priority, &j.Attempts, &j.MaxAttempts, &runAt,
		&lastErr, &completedAt, &cronExpr, &tz, &createdAt, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	j.Payload = json.RawMessage(payload)
	j.Status = entity.JobStatus(status)
	j.RunAt = fromMillis(runAt)
	if lastErr.Valid {
		j.LastError = &lastErr.String
	}
	j.CompletedAt = timePtr(completedAt)
	j.Cron = cronExpr.String
	j.Timezone = tz.String
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return &j, nil
}

const insertJob = `
INSERT INTO jobs (id, name, payload, status, priority, attempts, max_attempts, run_at,
                  cron_expr, timezone, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func jobArgs(j *entity.Job) []any {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	return []any{
		j.ID.String(), j.Name, payload, string(j.Status), j.Priority, j.Attempts, j.MaxAttempts,
		millis(j.RunAt), nullString(j.Cron), nullString(j.Timezone), millis(j.CreatedAt), millis(j.UpdatedAt),
	}
}

func (s *Store) CreateJob(ctx context.Context, j *entity.Job) error {
	_, err := s.db.ExecContext(ctx, insertJob, jobArgs(j)...)
	return err
}

func (s *Store) CreateRecurringJob(ctx context.Context, j *entity.Job) (bool, error) {
	const q = insertJob + `
ON CONFLICT (name) WHERE status IN ('pending', 'processing') AND cron_expr IS NOT NULL DO NOTHING`

	res, err := s.db.ExecContext(ctx, q, jobArgs(j)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) FindActiveRecurring(ctx context.Context, name string) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE name = ? AND status IN ('pending', 'processing') AND cron_expr IS NOT NULL
LIMIT 1`
	return scanJob(s.db.QueryRowContext(ctx, q, name))
}

func (s *Store) NextEligibleJob(ctx context.Context, now time.Time) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE status = 'pending' AND run_at <= ?
ORDER BY priority DESC, run_at ASC, created_at ASC, id ASC
LIMIT 1`
	return scanJob(s.db.QueryRowContext(ctx, q, millis(now)))
}

func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (*entity.Job, error) {
	const q = `UPDATE jobs
SET status = 'processing', attempts = attempts + 1, updated_at = ?
WHERE id = ? AND status = 'pending' AND run_at <= ?
RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRowContext(ctx, q, millis(now), id.String(), millis(now)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, repository.ErrInvalidTransition
	}
	return j, err
}

// The outcome updates are fenced on the attempt that was claimed, so a worker
// whose job was reaped and claimed again cannot overwrite the newer run.

func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error {
	const q = `UPDATE jobs
SET status = 'completed', completed_at = ?, last_error = NULL, updated_at = ?
WHERE id = ? AND status = 'processing' AND attempts = ?`
	return s.transition(ctx, q, millis(at), millis(at), id.String(), attempt)
}

func (s *Store) RetryJob(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string, now time.Time) error {
	const q = `UPDATE jobs
SET status = 'pending', run_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = 'processing' AND attempts = ?`
	return s.transition(ctx, q, millis(runAt), lastErr, millis(now), id.String(), attempt)
}

func (s *Store) FailJob(ctx context.Context, id uuid.UUID, attempt int, lastErr string, now time.Time) error {
	const q = `UPDATE jobs
SET status = 'failed', last_error = ?, updated_at = ?
WHERE id = ? AND status = 'processing' AND attempts = ?`
	return s.transition(ctx, q, lastErr, millis(now), id.String(), attempt)
}

func (s *Store) transition(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return scanJob(s.db.QueryRowContext(ctx, q, id.String()))
}

func (s *Store) ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE status = ?
ORDER BY updated_at DESC, id ASC
LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// RequeueStaleJobs returns abandoned processing jobs to pending. Jobs out of
// attempts, and recurring occurrences (whose next run is scheduled
// separately), are failed instead.
func (s *Store) RequeueStaleJobs(ctx context.Context, before, now time.Time) (int64, error) {
	const q = `UPDATE jobs
SET status = CASE
        WHEN attempts >= max_attempts OR cron_expr IS NOT NULL THEN 'failed'
        ELSE 'pending'
    END,
    last_error = 'abandoned while processing',
    updated_at = ?
WHERE status = 'processing' AND updated_at < ?`

	res, err := s.db.ExecContext(ctx, q, millis(now), millis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
