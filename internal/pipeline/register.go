package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"field-route-service/internal/cluster"
	"field-route-service/internal/geocoding"
	"field-route-service/internal/notify"
	"field-route-service/internal/service"
)

// Settings are the tunables of the route-planning handlers.
type Settings struct {
	// Location is the business timezone; "today" and "tomorrow" are computed in it.
	Location            *time.Location
	Cluster             cluster.Options
	AvgSpeedMPH         float64
	StopMinutes         float64
	EmailFrom           string
	OptimizeConcurrency int
}

func DefaultSettings() Settings {
	return Settings{
		Location:            time.UTC,
		Cluster:             cluster.Options{Epsilon: 3, MinPoints: 2, MaxRadius: 5},
		AvgSpeedMPH:         30,
		StopMinutes:         15,
		EmailFrom:           "no-reply@field-route.local",
		OptimizeConcurrency: 4,
	}
}

type Deps struct {
	Store     Store
	Geocoder  geocoding.Geocoder
	Scheduler service.JobScheduler
	Sender    notify.Sender
	Logger    *slog.Logger
	Settings  Settings
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handlers implements every pipeline task over one set of dependencies.
type Handlers struct {
	store     Store
	geocoder  geocoding.Geocoder
	zones     *ZoneLocator
	scheduler service.JobScheduler
	sender    notify.Sender
	logger    *slog.Logger
	settings  Settings
	now       func() time.Time
}

func NewHandlers(d Deps) (*Handlers, error) {
	if d.Store == nil || d.Geocoder == nil || d.Scheduler == nil || d.Sender == nil {
		return nil, errors.New("pipeline: store, geocoder, scheduler and sender are required")
	}
	h := &Handlers{
		store:     d.Store,
		geocoder:  d.Geocoder,
		zones:     NewZoneLocator(d.Store),
		scheduler: d.Scheduler,
		sender:    d.Sender,
		logger:    d.Logger,
		settings:  d.Settings,
		now:       d.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.settings.Location == nil {
		h.settings.Location = time.UTC
	}
	if h.settings.AvgSpeedMPH <= 0 {
		h.settings.AvgSpeedMPH = DefaultSettings().AvgSpeedMPH
	}
	if h.settings.OptimizeConcurrency <= 0 {
		h.settings.OptimizeConcurrency = DefaultSettings().OptimizeConcurrency
	}
	return h, nil
}

// Register builds the handlers and registers all five tasks on reg.
func Register(reg *service.Registry, d Deps) (*Handlers, error) {
	h, err := NewHandlers(d)
	if err != nil {
		return nil, err
	}

	err = errors.Join(
		reg.Register(service.TaskGeocodeAddress, service.Typed(h.GeocodeAddress)),
		reg.Register(service.TaskAssignRouteGroup, service.Typed(h.AssignRouteGroup)),
		reg.Register(service.TaskOptimizeRoutes, service.Typed(h.OptimizeRoutes)),
		reg.Register(service.TaskSendEmail, service.Typed(h.SendEmail)),
		reg.Register(service.TaskSendReminders, service.Typed(h.SendReminders)),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}
