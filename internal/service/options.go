package service

import (
	"log/slog"
	"time"

	"field-route-service/internal/observability"
)

const (
	DefaultPriority    = 0
	DefaultMaxAttempts = 3
	// RecurringPriority lets user-triggered work run ahead of recurring jobs.
	RecurringPriority = -1
)

type scheduleOptions struct {
	runAt       time.Time
	priority    int
	maxAttempts int
}

type ScheduleOption func(*scheduleOptions)

func WithRunAt(t time.Time) ScheduleOption {
	return func(o *scheduleOptions) { o.runAt = t }
}

func WithPriority(p int) ScheduleOption {
	return func(o *scheduleOptions) { o.priority = p }
}

func WithMaxAttempts(n int) ScheduleOption {
	return func(o *scheduleOptions) { o.maxAttempts = n }
}

type recurringOptions struct {
	timezone    string
	maxAttempts int
}

type RecurringOption func(*recurringOptions)

// WithTimezone sets the IANA zone the cron expression is evaluated in.
func WithTimezone(tz string) RecurringOption {
	return func(o *recurringOptions) { o.timezone = tz }
}

func WithRecurringMaxAttempts(n int) RecurringOption {
	return func(o *recurringOptions) { o.maxAttempts = n }
}

type QueueOption func(*Queue)

func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

func WithMetrics(m *observability.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func WithBackoff(b Backoff) QueueOption {
	return func(q *Queue) { q.backoff = b }
}

// WithHandlerTimeout bounds each handler invocation. Zero disables the deadline.
func WithHandlerTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.handlerTimeout = d }
}
