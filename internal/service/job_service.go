package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
)

// Read side of the job store (implementations: postgresql, sqlite, mongodb).
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error)
}

// JobScheduler is satisfied by *Queue.
type JobScheduler interface {
	Schedule(ctx context.Context, name TaskName, payload any, opts ...ScheduleOption) (*entity.Job, error)
}

type JobService struct {
	reader    JobReader
	scheduler JobScheduler
}

func NewJobService(reader JobReader, scheduler JobScheduler) *JobService {
	return &JobService{reader: reader, scheduler: scheduler}
}

type CreateJobRequest struct {
	Name        string
	Payload     json.RawMessage
	Priority    *int
	MaxAttempts int
	RunAt       *time.Time
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*entity.Job, error) {
	name := TaskName(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, req.Name)
	}

	var opts []ScheduleOption
	if req.Priority != nil {
		opts = append(opts, WithPriority(*req.Priority))
	}
	if req.MaxAttempts != 0 {
		opts = append(opts, WithMaxAttempts(req.MaxAttempts))
	}
	if req.RunAt != nil {
		opts = append(opts, WithRunAt(*req.RunAt))
	}

	return s.scheduler.Schedule(ctx, name, req.Payload, opts...)
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.reader.GetJob(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidJob, status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.reader.ListJobs(ctx, status, limit)
}
