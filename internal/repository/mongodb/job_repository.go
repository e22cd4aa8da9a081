// Package mongodb keeps the job queue in a MongoDB collection. Bookings, zones
// and route groups stay in the SQL store; only jobs move here.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"field-route-service/internal/entity"
	"field-route-service/internal/repository"
)

const collectionName = "jobs"

// legacyRecurringIndex covered pending occurrences only; recurringIndex also
// covers the one being processed, so a retry can always return it to pending.
const (
	legacyRecurringIndex = "recurring_pending"
	recurringIndex       = "recurring_active"
)

// Connect establishes a connection to MongoDB and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// jobDocument.Active is true while pending or processing. Partial indexes only
// take equality filters on older servers, so the live states get their own flag.
type jobDocument struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Payload     string     `bson:"payload"`
	Status      string     `bson:"status"`
	Priority    int        `bson:"priority"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"maxAttempts"`
	RunAt       time.Time  `bson:"runAt"`
	LastError   *string    `bson:"lastError,omitempty"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	Cron        string     `bson:"cron,omitempty"`
	Timezone    string     `bson:"timezone,omitempty"`
	Recurring   bool       `bson:"recurring"`
	Active      bool       `bson:"active"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

func toDocument(j *entity.Job) jobDocument {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	return jobDocument{
		ID:          j.ID.String(),
		Name:        j.Name,
		Payload:     payload,
		Status:      string(j.Status),
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		RunAt:       j.RunAt.UTC(),
		LastError:   j.LastError,
		CompletedAt: j.CompletedAt,
		Cron:        j.Cron,
		Timezone:    j.Timezone,
		Recurring:   j.Recurring(),
		Active:      j.Status == entity.StatusPending || j.Status == entity.StatusProcessing,
		CreatedAt:   j.CreatedAt.UTC(),
		UpdatedAt:   j.UpdatedAt.UTC(),
	}
}

func (d jobDocument) toEntity() (*entity.Job, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("job id %q: %w", d.ID, err)
	}
	j := &entity.Job{
		ID:          id,
		Name:        d.Name,
		Payload:     json.RawMessage(d.Payload),
		Status:      entity.JobStatus(d.Status),
		Priority:    d.Priority,
		Attempts:    d.Attempts,
		MaxAttempts: d.MaxAttempts,
		RunAt:       d.RunAt.UTC(),
		LastError:   d.LastError,
		Cron:        d.Cron,
		Timezone:    d.Timezone,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.CompletedAt != nil {
		t := d.CompletedAt.UTC()
		j.CompletedAt = &t
	}
	return j, nil
}

type JobStore struct {
	jobs *mongo.Collection
}

// NewJobStore returns a store over db.jobs and ensures its indexes exist.
func NewJobStore(ctx context.Context, db *mongo.Database) (*JobStore, error) {
	s := &JobStore{jobs: db.Collection(collectionName)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JobStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.jobs.Indexes().DropOne(ctx, legacyRecurringIndex); err != nil && !isMissing(err) {
		return fmt.Errorf("drop index %s: %w", legacyRecurringIndex, err)
	}

	_, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: -1}, {Key: "runAt", Value: 1}},
			Options: options.Index().SetName("eligible"),
		},
		{
			// at most one live occurrence per recurring job name
			Keys: bson.D{{Key: "name", Value: 1}},
			Options: options.Index().
				SetName(recurringIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"recurring": true, "active": true}),
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// isMissing reports a NamespaceNotFound or IndexNotFound reply.
func isMissing(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && (cmdErr.Code == 26 || cmdErr.Code == 27)
}

func (s *JobStore) CreateJob(ctx context.Context, j *entity.Job) error {
	_, err := s.jobs.InsertOne(ctx, toDocument(j))
	return err
}

func (s *JobStore) CreateRecurringJob(ctx context.Context, j *entity.Job) (bool, error) {
	_, err := s.jobs.InsertOne(ctx, toDocument(j))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *JobStore) FindActiveRecurring(ctx context.Context, name string) (*entity.Job, error) {
	filter := bson.M{"name": name, "recurring": true, "active": true}
	return s.findOne(ctx, filter, options.FindOne())
}

func (s *JobStore) NextEligibleJob(ctx context.Context, now time.Time) (*entity.Job, error) {
	filter := bson.M{"status": string(entity.StatusPending), "runAt": bson.M{"$lte": now.UTC()}}
	opts := options.FindOne().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "runAt", Value: 1},
		{Key: "createdAt", Value: 1},
		{Key: "_id", Value: 1},
	})
	return s.findOne(ctx, filter, opts)
}

func (s *JobStore) findOne(ctx context.Context, filter any, opts *options.FindOneOptions) (*entity.Job, error) {
	var doc jobDocument
	if err := s.jobs.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return doc.toEntity()
}

// ClaimJob is a single FindOneAndUpdate guarded by the pending status, so only
// one caller can move a given job to processing.
func (s *JobStore) ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (*entity.Job, error) {
	filter := bson.M{
		"_id":    id.String(),
		"status": string(entity.StatusPending),
		"runAt":  bson.M{"$lte": now.UTC()},
	}
	update := bson.M{
		"$set": bson.M{"status": string(entity.StatusProcessing), "updatedAt": now.UTC()},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc jobDocument
	if err := s.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrInvalidTransition
		}
		return nil, err
	}
	return doc.toEntity()
}

func (s *JobStore) CompleteJob(ctx context.Context, id uuid.UUID, attempt int, at time.Time) error {
	return s.transition(ctx, id, attempt, bson.M{
		"$set": bson.M{
			"status":      string(entity.StatusCompleted),
			"active":      false,
			"completedAt": at.UTC(),
			"updatedAt":   at.UTC(),
		},
		"$unset": bson.M{"lastError": ""},
	})
}

func (s *JobStore) RetryJob(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string, now time.Time) error {
	return s.transition(ctx, id, attempt, bson.M{
		"$set": bson.M{
			"status":    string(entity.StatusPending),
			"runAt":     runAt.UTC(),
			"lastError": lastErr,
			"updatedAt": now.UTC(),
		},
	})
}

func (s *JobStore) FailJob(ctx context.Context, id uuid.UUID, attempt int, lastErr string, now time.Time) error {
	return s.transition(ctx, id, attempt, bson.M{
		"$set": bson.M{
			"status":    string(entity.StatusFailed),
			"active":    false,
			"lastError": lastErr,
			"updatedAt": now.UTC(),
		},
	})
}

// transition applies an outcome to the run that claimed attempt; a job reaped
// and claimed again since then no longer matches.
func (s *JobStore) transition(ctx context.Context, id uuid.UUID, attempt int, update bson.M) error {
	filter := bson.M{"_id": id.String(), "status": string(entity.StatusProcessing), "attempts": attempt}
	res, err := s.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount != 1 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.findOne(ctx, bson.M{"_id": id.String()}, options.FindOne())
}

func (s *JobStore) ListJobs(ctx context.Context, status entity.JobStatus, limit int) ([]entity.Job, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.jobs.Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []entity.Job
	for cur.Next(ctx) {
		var doc jobDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		j, err := doc.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, cur.Err()
}

// RequeueStaleJobs fails stale jobs that are out of attempts or recurring,
// then returns the rest to pending.
func (s *JobStore) RequeueStaleJobs(ctx context.Context, before, now time.Time) (int64, error) {
	stale := bson.M{
		"status":    string(entity.StatusProcessing),
		"updatedAt": bson.M{"$lt": before.UTC()},
	}
	const abandoned = "abandoned while processing"

	failFilter := bson.M{
		"status":    stale["status"],
		"updatedAt": stale["updatedAt"],
		"$or": bson.A{
			bson.M{"recurring": true},
			bson.M{"$expr": bson.M{"$gte": bson.A{"$attempts", "$maxAttempts"}}},
		},
	}
	failed, err := s.jobs.UpdateMany(ctx, failFilter, bson.M{"$set": bson.M{
		"status":    string(entity.StatusFailed),
		"active":    false,
		"lastError": abandoned,
		"updatedAt": now.UTC(),
	}})
	if err != nil {
		return 0, err
	}

	requeued, err := s.jobs.UpdateMany(ctx, stale, bson.M{"$set": bson.M{
		"status":    string(entity.StatusPending),
		"lastError": abandoned,
		"updatedAt": now.UTC(),
	}})
	if err != nil {
		return failed.ModifiedCount, err
	}
	return failed.ModifiedCount + requeued.ModifiedCount, nil
}
