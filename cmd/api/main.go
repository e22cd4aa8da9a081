// @title Field Route Service API
// @version 1.0
// @description Booking intake, job inspection and route planning for field-service crews.
// @BasePath /
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

	"field-route-service/internal/app"
	"field-route-service/internal/config"
	"field-route-service/internal/observability"
	"field-route-service/internal/service"
	httptransport "field-route-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := observability.NewLogger("api", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close(context.Background())

	// DI
	metrics, metricsHandler := app.NewMetrics()
	queue := app.NewQueue(stores.Jobs, service.NewRegistry(), cfg, metrics, logger)

	h := httptransport.NewHandler(
		service.NewJobService(stores.Jobs, queue),
		service.NewBookingService(stores.Data, queue),
		service.NewRouteService(stores.Data, queue),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(h, logger, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("api stopped")
}
