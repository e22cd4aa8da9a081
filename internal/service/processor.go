package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"field-route-service/internal/entity"
	"field-route-service/internal/observability"
	"field-route-service/internal/repository"
)

// execute runs the handler of a claimed job and records the outcome.
func (q *Queue) execute(ctx context.Context, job *entity.Job) error {
	// outcomes must be written even when the worker is shutting down
	recordCtx := context.WithoutCancel(ctx)
	log := q.logger.With("job_id", job.ID, "job_name", job.Name, "attempt", job.Attempts)

	h, ok := q.registry.Lookup(job.Name)
	if !ok {
		msg := fmt.Sprintf("no handler registered for %q", job.Name)
		log.Error("job failed", "error", msg)
		if err := q.store.FailJob(recordCtx, job.ID, job.Attempts, msg, q.now().UTC()); err != nil {
			return q.recordErr("fail", job, err)
		}
		q.metrics.JobProcessed(job.Name, observability.OutcomeFailed, 0)
		return nil
	}

	log.Info("job processing", "max_attempts", job.MaxAttempts)
	start := time.Now()
	err := q.invoke(ctx, h, job)
	elapsed := time.Since(start)

	if err == nil {
		return q.handleSuccess(recordCtx, job, elapsed)
	}
	return q.handleFailure(recordCtx, job, err, elapsed)
}

func (q *Queue) invoke(ctx context.Context, h Handler, job *entity.Job) (err error) {
	if q.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.handlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job.Payload)
}

func (q *Queue) handleSuccess(ctx context.Context, job *entity.Job, elapsed time.Duration) error {
	if err := q.store.CompleteJob(ctx, job.ID, job.Attempts, q.now().UTC()); err != nil {
		return q.recordErr("complete", job, err)
	}
	q.metrics.JobProcessed(job.Name, observability.OutcomeCompleted, elapsed)
	q.logger.Info("job completed",
		"job_id", job.ID, "job_name", job.Name, "duration_ms", elapsed.Milliseconds())

	if job.Recurring() {
		return q.scheduleNext(ctx, job)
	}
	return nil
}

func (q *Queue) handleFailure(ctx context.Context, job *entity.Job, handlerErr error, elapsed time.Duration) error {
	msg := handlerErr.Error()
	now := q.now().UTC()

	if IsPermanent(handlerErr) || job.Attempts >= job.MaxAttempts {
		if err := q.store.FailJob(ctx, job.ID, job.Attempts, msg, now); err != nil {
			return q.recordErr("fail", job, err)
		}
		q.metrics.JobProcessed(job.Name, observability.OutcomeFailed, elapsed)
		q.logger.Error("job failed",
			"job_id", job.ID, "job_name", job.Name, "attempt", job.Attempts,
			"duration_ms", elapsed.Milliseconds(), "error", msg)

		// a failed night must not end the daily schedule
		if job.Recurring() {
			return q.scheduleNext(ctx, job)
		}
		return nil
	}

	runAt := now.Add(q.backoff.Delay(job.Attempts))
	if err := q.store.RetryJob(ctx, job.ID, job.Attempts, runAt, msg, now); err != nil {
		return q.recordErr("retry", job, err)
	}
	q.metrics.JobProcessed(job.Name, observability.OutcomeRetried, elapsed)
	q.logger.Warn("job retry scheduled",
		"job_id", job.ID, "job_name", job.Name, "attempt", job.Attempts,
		"run_at", runAt, "duration_ms", elapsed.Milliseconds(), "error", msg)
	return nil
}

func (q *Queue) scheduleNext(ctx context.Context, job *entity.Job) error {
	sched, err := ParseDailySchedule(job.Cron, job.Timezone)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", job.Name, err)
	}
	tmpl := &entity.Job{
		Name:        job.Name,
		Payload:     job.Payload,
		Priority:    job.Priority,
		MaxAttempts: job.MaxAttempts,
		Cron:        job.Cron,
		Timezone:    job.Timezone,
	}
	if _, err := q.ensureRecurring(ctx, tmpl, sched); err != nil {
		return fmt.Errorf("reschedule %s: %w", job.Name, err)
	}
	return nil
}

// recordErr handles an outcome write that did not apply. A guard miss means
// the job was reaped and belongs to a newer attempt now: the result of this
// run is dropped and the worker moves on.
func (q *Queue) recordErr(op string, job *entity.Job, err error) error {
	if errors.Is(err, repository.ErrInvalidTransition) {
		q.metrics.ClaimConflict()
		q.logger.Warn("claim superseded, outcome dropped",
			"job_id", job.ID, "job_name", job.Name, "attempt", job.Attempts, "op", op)
		return nil
	}
	return fmt.Errorf("%s job %s: %w", op, job.ID, err)
}
