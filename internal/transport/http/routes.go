package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "field-route-service/docs"
)

// Routes builds the admin API. metrics is mounted at /metrics when non-nil.
func Routes(h *Handler, logger *slog.Logger, metrics http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
	})

	r.Post("/bookings", h.CreateBooking)
	r.Post("/zones", h.CreateZone)

	r.Route("/route-groups/{id}", func(r chi.Router) {
		r.Get("/", h.GetRouteGroup)
		r.Post("/optimize", h.OptimizeRouteGroup)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
