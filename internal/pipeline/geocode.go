package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/geo"
	"field-route-service/internal/repository"
	"field-route-service/internal/service"
)

// GeocodeAddress resolves the booking's address, stores its location and
// zone, and hands bookings that landed in a zone to assign-route-group.
// Provider failures are returned as-is and retried by the queue.
func (h *Handlers) GeocodeAddress(ctx context.Context, p entity.BookingPayload) error {
	b, err := h.loadBooking(ctx, p.BookingID)
	if err != nil {
		return err
	}

	coords, err := h.geocoder.Geocode(ctx, b.Address)
	if err != nil {
		return fmt.Errorf("geocode booking %s: %w", b.ID, err)
	}
	if coords == nil {
		return service.Permanent(fmt.Errorf("address not found: %q", b.Address))
	}
	if !geo.ValidCoordinates(coords.Lat, coords.Lng) {
		return service.Permanent(fmt.Errorf("geocoder returned invalid coordinates %v,%v", coords.Lat, coords.Lng))
	}

	zone, err := h.zones.Locate(ctx, *coords)
	if err != nil {
		return err
	}
	var zoneID *uuid.UUID
	if zone != nil {
		zoneID = &zone.ID
	}
	if err := h.store.SetBookingLocation(ctx, b.ID, *coords, zoneID); err != nil {
		return fmt.Errorf("save location: %w", err)
	}

	if zone == nil {
		h.logger.Warn("booking outside every zone", "booking_id", b.ID, "lat", coords.Lat, "lng", coords.Lng)
		return nil
	}

	job, err := h.scheduler.Schedule(ctx, service.TaskAssignRouteGroup, entity.BookingPayload{BookingID: b.ID})
	if err != nil {
		return fmt.Errorf("schedule route group assignment: %w", err)
	}
	h.logger.Info("booking geocoded",
		"booking_id", b.ID, "zone_id", zone.ID, "zone", zone.Name, "next_job_id", job.ID)
	return nil
}

// AssignRouteGroup puts a zoned booking into the group for its zone, day and
// time slot, creating the group on first use.
func (h *Handlers) AssignRouteGroup(ctx context.Context, p entity.BookingPayload) error {
	b, err := h.loadBooking(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if b.ZoneID == nil {
		return service.Permanent(fmt.Errorf("booking %s has no zone", b.ID))
	}

	group, err := h.store.EnsureRouteGroup(ctx, *b.ZoneID, b.ServiceDate, b.TimeSlot)
	if err != nil {
		return fmt.Errorf("ensure route group: %w", err)
	}
	if err := h.store.SetBookingRouteGroup(ctx, b.ID, group.ID); err != nil {
		return fmt.Errorf("link booking to route group: %w", err)
	}

	h.logger.Info("booking assigned", "booking_id", b.ID, "route_group_id", group.ID)
	return nil
}

func (h *Handlers) loadBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	if id == uuid.Nil {
		return nil, service.Permanent(errors.New("payload has no bookingId"))
	}
	b, err := h.store.GetBooking(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, service.Permanent(fmt.Errorf("booking %s: %w", id, err))
	}
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", id, err)
	}
	return b, nil
}
