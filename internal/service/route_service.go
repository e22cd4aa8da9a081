package service

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
)

// ManualOptimizePriority puts an operator-requested optimization ahead of normal work.
const ManualOptimizePriority = 5

type RouteGroupReader interface {
	GetRouteGroup(ctx context.Context, id uuid.UUID) (*entity.RouteGroup, error)
	ListBookingsByRouteGroup(ctx context.Context, groupID uuid.UUID) ([]entity.Booking, error)
}

type RouteService struct {
	reader    RouteGroupReader
	scheduler JobScheduler
}

func NewRouteService(reader RouteGroupReader, scheduler JobScheduler) *RouteService {
	return &RouteService{reader: reader, scheduler: scheduler}
}

type RouteGroupView struct {
	Group *entity.RouteGroup
	// Stops in route order; bookings without a position come last.
	Stops []entity.Booking
}

func (s *RouteService) GetRouteGroup(ctx context.Context, id uuid.UUID) (*RouteGroupView, error) {
	g, err := s.reader.GetRouteGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	stops, err := s.reader.ListBookingsByRouteGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(stops, func(i, j int) bool {
		pi, pj := stops[i].RoutePosition, stops[j].RoutePosition
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})
	return &RouteGroupView{Group: g, Stops: stops}, nil
}

// RequestOptimization queues optimize-routes for a single group.
func (s *RouteService) RequestOptimization(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	if _, err := s.reader.GetRouteGroup(ctx, id); err != nil {
		return nil, err
	}
	return s.scheduler.Schedule(ctx, TaskOptimizeRoutes,
		entity.RouteGroupPayload{RouteGroupID: &id},
		WithPriority(ManualOptimizePriority),
	)
}
