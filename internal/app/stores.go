// Package app opens the stores selected by the config. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"

	"field-route-service/internal/config"
	"field-route-service/internal/pipeline"
	"field-route-service/internal/repository/mongodb"
	"field-route-service/internal/repository/postgresql"
	"field-route-service/internal/repository/sqlite"
	"field-route-service/internal/service"
)

// DataStore holds bookings, zones and route groups.
type DataStore interface {
	pipeline.Store
	service.BookingWriter
	service.RouteGroupReader
}

type Stores struct {
	Data DataStore
	Jobs service.JobStore

	closers []func(context.Context) error
}

// Close releases every connection opened by OpenStores, last opened first.
func (s *Stores) Close(ctx context.Context) error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenStores connects the data store and, when QUEUE_DRIVER says so, a
// separate job store. cfg must already be validated.
func OpenStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { pool.Close(); return nil })

		pg := postgresql.NewStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		s.Data, s.Jobs = pg, pg
		logger.Info("store opened", "driver", cfg.StoreDriver, "dsn", config.RedactDSN(cfg.PostgresDSN))

	case config.DriverSQLite:
		lite, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return lite.Close() })
		s.Data, s.Jobs = lite, lite
		logger.Info("store opened", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.JobDriver() == config.DriverMongo {
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("mongo: %w", err)
		}
		s.closers = append(s.closers, func(ctx context.Context) error { return client.Disconnect(ctx) })

		jobs, err := openMongoJobs(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		s.Jobs = jobs
		logger.Info("job store opened", "driver", config.DriverMongo, "uri", config.RedactDSN(cfg.MongoURI), "database", cfg.MongoDatabase)
	}

	return s, nil
}

func openMongoJobs(ctx context.Context, client *mongo.Client, database string) (*mongodb.JobStore, error) {
	jobs, err := mongodb.NewJobStore(ctx, client.Database(database))
	if err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return jobs, nil
}
