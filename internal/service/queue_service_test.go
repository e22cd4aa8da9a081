package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-route-service/internal/entity"
	"field-route-service/internal/observability"
	"field-route-service/internal/repository"
	"field-route-service/internal/repository/sqlite"
	"field-route-service/internal/service"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	queue *service.Queue
	store *sqlite.Store
	clock *testClock
}

func newHarness(t *testing.T, reg *service.Registry, opts ...service.QueueOption) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	base := []service.QueueOption{
		service.WithClock(clock.Now),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	q := service.NewQueue(store, reg, append(base, opts...)...)
	return &harness{queue: q, store: store, clock: clock}
}

func (h *harness) job(t *testing.T, j *entity.Job) *entity.Job {
	t.Helper()
	got, err := h.store.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	return got
}

type labelPayload struct {
	Label string `json:"label"`
}

func TestQueue_Schedule_Defaults(t *testing.T) {
	h := newHarness(t, service.NewRegistry())

	job, err := h.queue.Schedule(context.Background(), service.TaskSendEmail, labelPayload{Label: "x"})
	require.NoError(t, err)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, 0, got.Priority)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.RunAt.Equal(h.clock.Now()))
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.CompletedAt)
	assert.JSONEq(t, `{"label":"x"}`, string(got.Payload))
}

func TestQueue_Schedule_RejectsZeroAttempts(t *testing.T) {
	h := newHarness(t, service.NewRegistry())

	_, err := h.queue.Schedule(context.Background(), service.TaskSendEmail, nil, service.WithMaxAttempts(0))
	assert.ErrorIs(t, err, service.ErrInvalidJob)
}

func TestQueue_ProcessOne_EmptyQueue(t *testing.T) {
	h := newHarness(t, service.NewRegistry())

	found, err := h.queue.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueue_ProcessOne_HigherPriorityFirst(t *testing.T) {
	for _, order := range [][]int{{0, 10}, {10, 0}} {
		reg := service.NewRegistry()
		var ran []string
		reg.MustRegister(service.TaskSendEmail, service.Typed(func(_ context.Context, p labelPayload) error {
			ran = append(ran, p.Label)
			return nil
		}))
		h := newHarness(t, reg)
		ctx := context.Background()

		for _, prio := range order {
			label := "low"
			if prio == 10 {
				label = "high"
			}
			_, err := h.queue.Schedule(ctx, service.TaskSendEmail, labelPayload{Label: label}, service.WithPriority(prio))
			require.NoError(t, err)
		}

		found, err := h.queue.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []string{"high"}, ran, "scheduled order %v", order)
	}
}

func TestQueue_ProcessOne_EarlierRunAtWinsWithinPriority(t *testing.T) {
	reg := service.NewRegistry()
	var ran []string
	reg.MustRegister(service.TaskSendEmail, service.Typed(func(_ context.Context, p labelPayload) error {
		ran = append(ran, p.Label)
		return nil
	}))
	h := newHarness(t, reg)
	ctx := context.Background()
	now := h.clock.Now()

	_, err := h.queue.Schedule(ctx, service.TaskSendEmail, labelPayload{Label: "later"}, service.WithRunAt(now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = h.queue.Schedule(ctx, service.TaskSendEmail, labelPayload{Label: "earlier"}, service.WithRunAt(now.Add(-2*time.Minute)))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := h.queue.ProcessOne(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"earlier", "later"}, ran)
}

func TestQueue_ProcessOne_FutureJobNotEligible(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskSendEmail, service.HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil, service.WithRunAt(h.clock.Now().Add(time.Hour)))
	require.NoError(t, err)

	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	h.clock.Advance(time.Hour)
	found, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entity.StatusCompleted, h.job(t, job).Status)
}

func TestQueue_ProcessOne_Success(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskSendEmail, service.HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)

	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(h.clock.Now()))
}

func TestQueue_RetryBackoffThenFailed(t *testing.T) {
	reg := service.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(service.TaskGeocodeAddress, service.HandlerFunc(func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("geocoder unreachable")
	}))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskGeocodeAddress, nil, service.WithMaxAttempts(3))
	require.NoError(t, err)

	// first attempt fails -> retry at least 1s out
	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)
	got := h.job(t, job)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.RunAt.Before(h.clock.Now().Add(1000*time.Millisecond)))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "geocoder unreachable", *got.LastError)

	found, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, found, "job must wait for its backoff")

	// second attempt fails -> retry at least 2s out
	h.clock.Advance(time.Second)
	found, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)
	got = h.job(t, job)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.False(t, got.RunAt.Before(h.clock.Now().Add(2000*time.Millisecond)))

	// third attempt exhausts maxAttempts
	h.clock.Advance(2 * time.Second)
	found, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)
	got = h.job(t, job)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.LastError)

	h.clock.Advance(time.Hour)
	found, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_UnregisteredNameFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendReminders, nil)
	require.NoError(t, err)

	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "no handler registered")
}

func TestQueue_PermanentErrorFailsImmediately(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskAssignRouteGroup, service.HandlerFunc(func(context.Context, json.RawMessage) error {
		return service.Permanent(errors.New("booking has no zone"))
	}))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskAssignRouteGroup, nil)
	require.NoError(t, err)

	_, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestQueue_UndecodablePayloadFailsImmediately(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskSendEmail, service.Typed(func(context.Context, entity.EmailPayload) error { return nil }))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, json.RawMessage(`{"to": 42}`))
	require.NoError(t, err)

	_, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, h.job(t, job).Status)
}

func TestQueue_HandlerPanicIsRetried(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskSendEmail, service.HandlerFunc(func(context.Context, json.RawMessage) error {
		panic("boom")
	}))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)

	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusPending, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "boom")
}

func TestQueue_ConcurrentProcessOneRunsHandlerOnce(t *testing.T) {
	reg := service.NewRegistry()
	var calls atomic.Int32
	reg.MustRegister(service.TaskSendEmail, service.HandlerFunc(func(context.Context, json.RawMessage) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}))
	h := newHarness(t, reg)
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)

	const workers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := h.queue.ProcessOne(ctx); err != nil {
				errs <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	got := h.job(t, job)
	assert.Equal(t, entity.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestQueue_ClaimIsConditional(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)

	_, err = h.store.ClaimJob(ctx, job.ID, h.clock.Now())
	require.NoError(t, err)
	_, err = h.store.ClaimJob(ctx, job.ID, h.clock.Now())
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestQueue_ScheduleRecurring_Idempotent(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()

	first, err := h.queue.ScheduleRecurring(ctx, service.TaskOptimizeRoutes, "0 2 * * *")
	require.NoError(t, err)
	second, err := h.queue.ScheduleRecurring(ctx, service.TaskOptimizeRoutes, "0 2 * * *")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, service.RecurringPriority, first.Priority)
	assert.True(t, first.RunAt.Equal(time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)), "run_at=%s", first.RunAt)

	pending, err := h.store.ListJobs(ctx, entity.StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_ScheduleRecurring_ConcurrentCallersCreateOneJob(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.queue.ScheduleRecurring(ctx, service.TaskSendReminders, "0 17 * * *")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := h.store.ListJobs(ctx, entity.StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_ScheduleRecurring_RejectsUnsupportedCron(t *testing.T) {
	h := newHarness(t, service.NewRegistry())

	for _, expr := range []string{"*/5 * * * *", "0 2 * * 1", "0 2 1 * *", "0 2 * *", "0 1-3 * * *", "@daily"} {
		_, err := h.queue.ScheduleRecurring(context.Background(), service.TaskOptimizeRoutes, expr)
		assert.ErrorIs(t, err, service.ErrUnsupportedCron, expr)
	}
}

func TestQueue_RecurringJobReschedulesAfterCompletion(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskOptimizeRoutes, service.HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))
	h := newHarness(t, reg)
	ctx := context.Background()

	first, err := h.queue.ScheduleRecurring(ctx, service.TaskOptimizeRoutes, "0 2 * * *")
	require.NoError(t, err)

	h.clock.Advance(14 * time.Hour) // 2026-03-11 02:00
	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entity.StatusCompleted, h.job(t, first).Status)

	next, err := h.store.FindActiveRecurring(ctx, string(service.TaskOptimizeRoutes))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.True(t, next.RunAt.Equal(time.Date(2026, 3, 12, 2, 0, 0, 0, time.UTC)), "run_at=%s", next.RunAt)
	assert.Equal(t, "0 2 * * *", next.Cron)
}

func TestQueue_RequeueStale(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)
	// a worker claims the job and dies
	_, err = h.store.ClaimJob(ctx, job.ID, h.clock.Now())
	require.NoError(t, err)

	n, err := h.queue.RequeueStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	h.clock.Advance(20 * time.Minute)
	n, err = h.queue.RequeueStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestQueue_Metrics(t *testing.T) {
	reg := service.NewRegistry()
	reg.MustRegister(service.TaskSendEmail, service.HandlerFunc(func(context.Context, json.RawMessage) error { return nil }))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := newHarness(t, reg, service.WithMetrics(metrics))
	ctx := context.Background()

	_, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)
	_, err = h.queue.ProcessOne(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Processed("send-email", observability.OutcomeCompleted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Processed("send-email", observability.OutcomeFailed)))
}

func TestQueue_RecurringRetryWhileRescheduled(t *testing.T) {
	reg := service.NewRegistry()
	var h *harness
	reg.MustRegister(service.TaskOptimizeRoutes, service.HandlerFunc(func(ctx context.Context, _ json.RawMessage) error {
		// startup or the reaper ensures the schedule while this run is live
		running, err := h.queue.ScheduleRecurring(ctx, service.TaskOptimizeRoutes, "0 2 * * *")
		if err != nil {
			return err
		}
		if running.Status != entity.StatusProcessing {
			return service.Permanent(errors.New("expected the running occurrence back"))
		}
		return errors.New("transient db blip")
	}))
	h = newHarness(t, reg)
	ctx := context.Background()

	first, err := h.queue.ScheduleRecurring(ctx, service.TaskOptimizeRoutes, "0 2 * * *")
	require.NoError(t, err)

	h.clock.Advance(14 * time.Hour)
	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)

	got := h.job(t, first)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "transient db blip", *got.LastError)

	pending, err := h.store.ListJobs(ctx, entity.StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_ReclaimedJobKeepsNewerRun(t *testing.T) {
	reg := service.NewRegistry()
	var (
		h         *harness
		jobID     uuid.UUID
		reclaimed *entity.Job
	)
	reg.MustRegister(service.TaskGeocodeAddress, service.HandlerFunc(func(ctx context.Context, _ json.RawMessage) error {
		// the run outlives the stale threshold: the reaper releases it and a
		// second worker claims it before this one reports back
		h.clock.Advance(20 * time.Minute)
		n, err := h.queue.RequeueStale(ctx, 15*time.Minute)
		if err != nil || n != 1 {
			return fmt.Errorf("requeue: n=%d err=%v", n, err)
		}
		reclaimed, err = h.store.ClaimJob(ctx, jobID, h.clock.Now())
		return err
	}))
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h = newHarness(t, reg, service.WithMetrics(metrics))
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskGeocodeAddress, nil)
	require.NoError(t, err)
	jobID = job.ID

	found, err := h.queue.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, reclaimed)
	assert.Equal(t, 2, reclaimed.Attempts)

	got := h.job(t, job)
	assert.Equal(t, entity.StatusProcessing, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Processed("geocode-address", observability.OutcomeCompleted)))
}

func TestQueue_StaleOutcomeIsRejected(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()

	job, err := h.queue.Schedule(ctx, service.TaskSendEmail, nil)
	require.NoError(t, err)
	_, err = h.store.ClaimJob(ctx, job.ID, h.clock.Now())
	require.NoError(t, err)

	h.clock.Advance(20 * time.Minute)
	_, err = h.queue.RequeueStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	_, err = h.store.ClaimJob(ctx, job.ID, h.clock.Now())
	require.NoError(t, err)

	now := h.clock.Now()
	assert.ErrorIs(t, h.store.CompleteJob(ctx, job.ID, 1, now), repository.ErrInvalidTransition)
	assert.ErrorIs(t, h.store.RetryJob(ctx, job.ID, 1, now, "late", now), repository.ErrInvalidTransition)
	assert.ErrorIs(t, h.store.FailJob(ctx, job.ID, 1, "late", now), repository.ErrInvalidTransition)
	require.NoError(t, h.store.CompleteJob(ctx, job.ID, 2, now))
	assert.Equal(t, entity.StatusCompleted, h.job(t, job).Status)
}

type downScheduler struct{}

func (downScheduler) Schedule(context.Context, service.TaskName, any, ...service.ScheduleOption) (*entity.Job, error) {
	return nil, errors.New("queue unavailable")
}

func TestBookingService_SQLiteRollsBackUnqueuedBooking(t *testing.T) {
	h := newHarness(t, service.NewRegistry())
	ctx := context.Background()
	svc := service.NewBookingService(h.store, downScheduler{})

	_, _, err := svc.CreateBooking(ctx, service.CreateBookingRequest{
		Address:     "1 Main St",
		ServiceDate: "2026-04-02",
		TimeSlot:    "morning",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, service.ErrInvalidBooking)

	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	left, err := h.store.ListBookingsByDate(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, left)
}
