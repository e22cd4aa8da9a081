package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/geo"
)

var ErrInvalidBooking = errors.New("invalid booking")

type BookingWriter interface {
	CreateBooking(ctx context.Context, b *entity.Booking) error
	DeleteBooking(ctx context.Context, id uuid.UUID) error
	CreateZone(ctx context.Context, z *entity.Zone) error
}

// BookingService is the intake side of the pipeline: a stored booking is
// immediately queued for geocoding. The two writes may hit different stores,
// so a booking whose job cannot be queued is deleted again and the caller
// sees the error.
type BookingService struct {
	store     BookingWriter
	scheduler JobScheduler
	now       func() time.Time
}

func NewBookingService(store BookingWriter, scheduler JobScheduler) *BookingService {
	return &BookingService{store: store, scheduler: scheduler, now: time.Now}
}

type CreateBookingRequest struct {
	CustomerName string
	Email        string
	Address      string
	ServiceDate  string // YYYY-MM-DD
	TimeSlot     string
}

func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*entity.Booking, *entity.Job, error) {
	if strings.TrimSpace(req.Address) == "" {
		return nil, nil, fmt.Errorf("%w: address is required", ErrInvalidBooking)
	}
	if req.TimeSlot == "" {
		return nil, nil, fmt.Errorf("%w: time slot is required", ErrInvalidBooking)
	}
	date, err := time.Parse(entity.DateLayout, req.ServiceDate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: service date must be YYYY-MM-DD", ErrInvalidBooking)
	}

	b := &entity.Booking{
		ID:           uuid.New(),
		CustomerName: req.CustomerName,
		Email:        req.Email,
		Address:      strings.TrimSpace(req.Address),
		ServiceDate:  date,
		TimeSlot:     req.TimeSlot,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, nil, fmt.Errorf("create booking: %w", err)
	}

	job, err := s.scheduler.Schedule(ctx, TaskGeocodeAddress, entity.BookingPayload{BookingID: b.ID})
	if err != nil {
		if delErr := s.store.DeleteBooking(context.WithoutCancel(ctx), b.ID); delErr != nil {
			return nil, nil, fmt.Errorf("schedule geocode for booking %s, left without a job: %w", b.ID, errors.Join(err, delErr))
		}
		return nil, nil, fmt.Errorf("schedule geocode: %w", err)
	}
	return b, job, nil
}

type CreateZoneRequest struct {
	Name     string
	Lat      float64
	Lng      float64
	RadiusMi float64
}

func (s *BookingService) CreateZone(ctx context.Context, req CreateZoneRequest) (*entity.Zone, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: zone name is required", ErrInvalidBooking)
	}
	if !geo.ValidCoordinates(req.Lat, req.Lng) {
		return nil, fmt.Errorf("%w: zone center out of range", ErrInvalidBooking)
	}
	if req.RadiusMi <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidBooking)
	}

	z := &entity.Zone{
		ID:        uuid.New(),
		Name:      req.Name,
		Center:    entity.Coordinates{Lat: req.Lat, Lng: req.Lng},
		RadiusMi:  req.RadiusMi,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateZone(ctx, z); err != nil {
		return nil, fmt.Errorf("create zone: %w", err)
	}
	return z, nil
}
