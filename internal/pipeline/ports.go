// Package pipeline holds the job handlers that take a booking from an address
// to a sequenced route: geocode, assign to a route group, optimize, notify.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
)

type BookingStore interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	SetBookingLocation(ctx context.Context, id uuid.UUID, loc entity.Coordinates, zoneID *uuid.UUID) error
	SetBookingRouteGroup(ctx context.Context, id, groupID uuid.UUID) error
	ListBookingsByRouteGroup(ctx context.Context, groupID uuid.UUID) ([]entity.Booking, error)
	ListBookingsByDate(ctx context.Context, date time.Time) ([]entity.Booking, error)
}

type ZoneStore interface {
	GetZone(ctx context.Context, id uuid.UUID) (*entity.Zone, error)
	ListActiveZones(ctx context.Context) ([]entity.Zone, error)
}

type RouteGroupStore interface {
	EnsureRouteGroup(ctx context.Context, zoneID uuid.UUID, date time.Time, slot string) (*entity.RouteGroup, error)
	GetRouteGroup(ctx context.Context, id uuid.UUID) (*entity.RouteGroup, error)
	ListRouteGroupsFrom(ctx context.Context, from time.Time) ([]entity.RouteGroup, error)
	SaveRouteOptimization(ctx context.Context, groupID uuid.UUID, opt entity.RouteOptimization) error
}

// Store is everything the handlers persist through. Both SQL stores satisfy it.
type Store interface {
	BookingStore
	ZoneStore
	RouteGroupStore
}
