package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"field-route-service/internal/app"
	"field-route-service/internal/cluster"
	"field-route-service/internal/config"
	"field-route-service/internal/geocoding"
	"field-route-service/internal/notify"
	"field-route-service/internal/observability"
	"field-route-service/internal/pipeline"
	"field-route-service/internal/service"
	"field-route-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := observability.NewLogger("worker", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close(context.Background())

	// Geocoder, optionally behind the Redis cache
	nominatim := geocoding.NewNominatimGeocoder(cfg.NominatimURL, cfg.NominatimUserAgent, logger)
	defer nominatim.Close()
	var geocoder geocoding.Geocoder = nominatim

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// the cache falls through on errors, so keep going
			logger.Warn("redis unreachable, geocode cache degraded", "addr", cfg.RedisAddr, "error", err)
		}
		geocoder = geocoding.NewCachedGeocoder(nominatim, rdb, cfg.GeocodeCacheTTL, logger)
	}

	// DI
	metrics, metricsHandler := app.NewMetrics()
	registry := service.NewRegistry()
	queue := app.NewQueue(stores.Jobs, registry, cfg, metrics, logger)

	_, err = pipeline.Register(registry, pipeline.Deps{
		Store:     stores.Data,
		Geocoder:  geocoder,
		Scheduler: queue,
		Sender:    notify.NewLogSender(logger),
		Logger:    logger,
		Settings: pipeline.Settings{
			Location: loc,
			Cluster: cluster.Options{
				Epsilon:   cfg.ClusterEpsilonMi,
				MinPoints: cfg.ClusterMinPoints,
				MaxRadius: cfg.ClusterMaxRadiusMi,
			},
			AvgSpeedMPH:         cfg.AvgSpeedMPH,
			StopMinutes:         cfg.StopMinutes,
			EmailFrom:           cfg.EmailFrom,
			OptimizeConcurrency: pipeline.DefaultSettings().OptimizeConcurrency,
		},
	})
	if err != nil {
		logger.Error("register handlers", "error", err)
		os.Exit(1)
	}
	if missing := registry.Missing(); len(missing) > 0 {
		logger.Warn("tasks without a handler", "tasks", missing)
	}

	ensureRecurring := func(ctx context.Context) {
		for name, expr := range map[service.TaskName]string{
			service.TaskOptimizeRoutes: cfg.OptimizeCron,
			service.TaskSendReminders:  cfg.RemindersCron,
		} {
			if _, err := queue.ScheduleRecurring(ctx, name, expr, service.WithTimezone(cfg.Timezone)); err != nil {
				logger.Error("ensure recurring job", "job_name", name, "cron", expr, "error", err)
			}
		}
	}
	ensureRecurring(ctx)

	// Reaper: releases jobs left in processing by a crashed worker, then puts
	// back any recurring occurrence the release failed.
	go func() {
		ticker := time.NewTicker(cfg.ReapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, cfg.StaleAfter)
				if err != nil {
					logger.Error("requeue stale jobs", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("released stale jobs", "count", n)
					ensureRecurring(ctx)
				}
			}
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	pool := worker.NewPool(queue, cfg.Workers, cfg.PollInterval, logger)

	logger.Info("worker started",
		"workers", cfg.Workers,
		"poll_interval", cfg.PollInterval,
		"store_driver", cfg.StoreDriver,
		"job_driver", cfg.JobDriver(),
		"timezone", cfg.Timezone,
		"metrics_addr", cfg.MetricsAddr,
	)
	if err := pool.Run(ctx); err != nil {
		logger.Error("worker pool", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("worker stopped")
}
