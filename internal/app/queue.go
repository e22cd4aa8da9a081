package app

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"field-route-service/internal/config"
	"field-route-service/internal/observability"
	"field-route-service/internal/service"
)

// NewMetrics builds a fresh registry with the job metrics and the Go runtime
// collectors, and the handler that serves it.
func NewMetrics() (*observability.Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return observability.NewMetrics(reg), promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// NewQueue wires the job store into a Queue configured from cfg. The API binary
// passes an empty registry: it only schedules.
func NewQueue(jobs service.JobStore, reg *service.Registry, cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) *service.Queue {
	return service.NewQueue(jobs, reg,
		service.WithLogger(logger),
		service.WithMetrics(metrics),
		service.WithHandlerTimeout(cfg.HandlerTimeout),
	)
}
