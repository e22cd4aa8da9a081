package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/observability"
	"field-route-service/internal/repository"
)

// JobStore is the durable side of the queue. Every status change is a single
// conditional update guarded by the previous status; a guard miss returns
// repository.ErrInvalidTransition.
type JobStore interface {
	CreateJob(ctx context.Context, job *entity.Job) error
	// CreateRecurringJob inserts job unless a pending or processing job with
	// the same name and a recurrence already exists. It reports whether a row
	// was inserted.
	CreateRecurringJob(ctx context.Context, job *entity.Job) (bool, error)
	// FindActiveRecurring returns the pending or processing occurrence of name.
	FindActiveRecurring(ctx context.Context, name string) (*entity.Job, error)

	// NextEligibleJob returns the pending job with runAt <= now, highest
	// priority first, then earliest runAt. repository.ErrNotFound when none.
	NextEligibleJob(ctx context.Context, now time.Time) (*entity.Job, error)
	// ClaimJob moves a pending job to processing and increments attempts.
	ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (*entity.Job, error)

	// The outcome updates only apply while the job is still processing the
	// claimed attempt; a reaped and reclaimed job no longer matches.
	CompleteJob(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error
	RetryJob(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string, now time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, attempt int, lastErr string, now time.Time) error

	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error)
	// RequeueStaleJobs releases processing jobs not updated since before.
	RequeueStaleJobs(ctx context.Context, before, now time.Time) (int64, error)
}

type Queue struct {
	store    JobStore
	registry *Registry

	logger         *slog.Logger
	metrics        *observability.Metrics
	backoff        Backoff
	now            func() time.Time
	handlerTimeout time.Duration
}

func NewQueue(store JobStore, registry *Registry, opts ...QueueOption) *Queue {
	q := &Queue{
		store:          store,
		registry:       registry,
		logger:         slog.Default(),
		backoff:        DefaultBackoff,
		now:            time.Now,
		handlerTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Schedule inserts a pending job. Defaults: run now, priority 0, 3 attempts.
// payload is JSON-encoded and handed to the handler untouched.
func (q *Queue) Schedule(ctx context.Context, name TaskName, payload any, opts ...ScheduleOption) (*entity.Job, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	now := q.now().UTC()
	o := scheduleOptions{runAt: now, priority: DefaultPriority, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidJob)
	}
	if o.runAt.IsZero() {
		o.runAt = now
	}

	job := &entity.Job{
		ID:          uuid.New(),
		Name:        string(name),
		Payload:     raw,
		Status:      entity.StatusPending,
		Priority:    o.priority,
		MaxAttempts: o.maxAttempts,
		RunAt:       o.runAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	q.metrics.JobScheduled(job.Name)
	q.logger.Debug("job scheduled",
		"job_id", job.ID, "job_name", job.Name, "priority", job.Priority, "run_at", job.RunAt)
	return job, nil
}

// ScheduleRecurring makes sure exactly one live occurrence of name exists.
// If one is already pending or running it is returned unchanged; otherwise the
// next fire time of cronExpr is scheduled at RecurringPriority. Concurrent callers rely
// on the store's uniqueness guarantee, not on the lookup.
func (q *Queue) ScheduleRecurring(ctx context.Context, name TaskName, cronExpr string, opts ...RecurringOption) (*entity.Job, error) {
	o := recurringOptions{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	sched, err := ParseDailySchedule(cronExpr, o.timezone)
	if err != nil {
		return nil, err
	}

	tmpl := &entity.Job{
		Name:        string(name),
		Payload:     json.RawMessage(`{}`),
		Priority:    RecurringPriority,
		MaxAttempts: o.maxAttempts,
		Cron:        cronExpr,
		Timezone:    sched.Location.String(),
	}
	return q.ensureRecurring(ctx, tmpl, sched)
}

func (q *Queue) ensureRecurring(ctx context.Context, tmpl *entity.Job, sched *DailySchedule) (*entity.Job, error) {
	// the live occurrence can finish between a failed insert and the lookup;
	// try again a few times before giving up
	for i := 0; i < 3; i++ {
		now := q.now().UTC()
		job := *tmpl
		job.ID = uuid.New()
		job.Status = entity.StatusPending
		job.Attempts = 0
		job.RunAt = sched.Next(now).UTC()
		job.LastError = nil
		job.CompletedAt = nil
		job.CreatedAt = now
		job.UpdatedAt = now

		created, err := q.store.CreateRecurringJob(ctx, &job)
		if err != nil {
			return nil, fmt.Errorf("create recurring job: %w", err)
		}
		if created {
			q.metrics.JobScheduled(job.Name)
			q.logger.Info("recurring job scheduled",
				"job_id", job.ID, "job_name", job.Name, "run_at", job.RunAt, "cron", job.Cron)
			return &job, nil
		}

		existing, err := q.store.FindActiveRecurring(ctx, job.Name)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find recurring job: %w", err)
		}
	}
	return nil, fmt.Errorf("schedule recurring %q: lost too many races", tmpl.Name)
}

// ProcessOne claims and runs at most one eligible job. It returns false only
// when nothing is eligible; a claim lost to another worker still returns true.
func (q *Queue) ProcessOne(ctx context.Context) (bool, error) {
	now := q.now().UTC()

	candidate, err := q.store.NextEligibleJob(ctx, now)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find eligible job: %w", err)
	}

	job, err := q.store.ClaimJob(ctx, candidate.ID, now)
	if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
		q.metrics.ClaimConflict()
		q.logger.Debug("claim lost", "job_id", candidate.ID, "job_name", candidate.Name)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", candidate.ID, err)
	}

	return true, q.execute(ctx, job)
}

// RequeueStale releases jobs stuck in processing for longer than olderThan,
// e.g. after a worker crash. Jobs out of attempts are failed instead.
func (q *Queue) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := q.now().UTC()
	n, err := q.store.RequeueStaleJobs(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	q.metrics.JobsReaped(n)
	return n, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid json")
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
