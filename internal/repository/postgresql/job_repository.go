package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"field-route-service/internal/entity"
	"field-route-service/internal/repository"
)

const jobColumns = `id, name, payload, status, priority, attempts, max_attempts, run_at,
last_error, completed_at, cron_expr, timezone, created_at, updated_at`

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job          entity.Job
		statusText   string
		payloadBytes []byte
		cronExpr     *string
		tz           *string
	)

	if err := row.Scan(
		&job.ID,
		&job.Name,
		&payloadBytes,
		&statusText,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.RunAt,
		&job.LastError,   // NULL => nil
		&job.CompletedAt, // NULL => nil
		&cronExpr,
		&tz,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	job.Status = entity.JobStatus(statusText)
	job.Payload = json.RawMessage(payloadBytes)
	job.Cron = deref(cronExpr)
	job.Timezone = deref(tz)
	return &job, nil
}

const insertJob = `
INSERT INTO jobs (id, name, payload, status, priority, attempts, max_attempts, run_at,
                  cron_expr, timezone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func jobArgs(j *entity.Job) []any {
	payload := j.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return []any{
		j.ID, j.Name, []byte(payload), string(j.Status), j.Priority, j.Attempts, j.MaxAttempts,
		j.RunAt, nullString(j.Cron), nullString(j.Timezone), j.CreatedAt, j.UpdatedAt,
	}
}

func (s *Store) CreateJob(ctx context.Context, j *entity.Job) error {
	_, err := s.pool.Exec(ctx, insertJob, jobArgs(j)...)
	return err
}

func (s *Store) CreateRecurringJob(ctx context.Context, j *entity.Job) (bool, error) {
	const q = insertJob + `
ON CONFLICT (name) WHERE status IN ('pending', 'processing') AND cron_expr IS NOT NULL DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, jobArgs(j)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FindActiveRecurring(ctx context.Context, name string) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE name = $1 AND status IN ('pending', 'processing') AND cron_expr IS NOT NULL
LIMIT 1`
	return scanJob(s.pool.QueryRow(ctx, q, name))
}

func (s *Store) NextEligibleJob(ctx context.Context, now time.Time) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE status = 'pending' AND run_at <= $1
ORDER BY priority DESC, run_at ASC, created_at ASC, id ASC
LIMIT 1`
	return scanJob(s.pool.QueryRow(ctx, q, now))
}

// ClaimJob moves a pending, due job to processing. A job another worker got
// to first yields ErrInvalidTransition.
func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (*entity.Job, error) {
	const q = `UPDATE jobs
SET status = 'processing', attempts = attempts + 1, updated_at = $2
WHERE id = $1 AND status = 'pending' AND run_at <= $2
RETURNING ` + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, q, id, now))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, repository.ErrInvalidTransition
	}
	return j, err
}

// Outcome updates carry the claimed attempt as a fence.

func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error {
	const q = `UPDATE jobs
SET status = 'completed', completed_at = $3, last_error = NULL, updated_at = $3
WHERE id = $1 AND status = 'processing' AND attempts = $2`
	return s.transition(ctx, q, id, attempt, at)
}

func (s *Store) RetryJob(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string, now time.Time) error {
	const q = `UPDATE jobs
SET status = 'pending', run_at = $3, last_error = $4, updated_at = $5
WHERE id = $1 AND status = 'processing' AND attempts = $2`
	return s.transition(ctx, q, id, attempt, runAt, lastErr, now)
}

func (s *Store) FailJob(ctx context.Context, id uuid.UUID, attempt int, lastErr string, now time.Time) error {
	const q = `UPDATE jobs
SET status = 'failed', last_error = $3, updated_at = $4
WHERE id = $1 AND status = 'processing' AND attempts = $2`
	return s.transition(ctx, q, id, attempt, lastErr, now)
}

func (s *Store) transition(ctx context.Context, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs
WHERE status = $1
ORDER BY updated_at DESC, id ASC
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, string(status), limit)
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

func (s *Store) RequeueStaleJobs(ctx context.Context, before, now time.Time) (int64, error) {
	const q = `UPDATE jobs
SET status = CASE
        WHEN attempts >= max_attempts OR cron_expr IS NOT NULL THEN 'failed'
        ELSE 'pending'
    END,
    last_error = 'abandoned while processing',
    updated_at = $2
WHERE status = 'processing' AND updated_at < $1`

	tag, err := s.pool.Exec(ctx, q, before, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
