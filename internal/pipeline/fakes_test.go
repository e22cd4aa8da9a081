package pipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/notify"
	"field-route-service/internal/repository"
	"field-route-service/internal/service"
)

type memStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*entity.Booking
	zones    []entity.Zone
	groups   map[uuid.UUID]*entity.RouteGroup
	saved    map[uuid.UUID]entity.RouteOptimization
}

func newMemStore() *memStore {
	return &memStore{
		bookings: map[uuid.UUID]*entity.Booking{},
		groups:   map[uuid.UUID]*entity.RouteGroup{},
		saved:    map[uuid.UUID]entity.RouteOptimization{},
	}
}

func (m *memStore) addBooking(b entity.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = &b
}

func (m *memStore) GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) SetBookingLocation(ctx context.Context, id uuid.UUID, loc entity.Coordinates, zoneID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Location = &loc
	b.ZoneID = zoneID
	return nil
}

func (m *memStore) SetBookingRouteGroup(ctx context.Context, id, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.RouteGroupID = &groupID
	return nil
}

func (m *memStore) ListBookingsByRouteGroup(ctx context.Context, groupID uuid.UUID) ([]entity.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Booking
	for _, b := range m.bookings {
		if b.RouteGroupID != nil && *b.RouteGroupID == groupID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ListBookingsByDate(ctx context.Context, date time.Time) ([]entity.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Booking
	for _, b := range m.bookings {
		if b.ServiceDate.Equal(date) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) GetZone(ctx context.Context, id uuid.UUID) (*entity.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.zones {
		if m.zones[i].ID == id {
			z := m.zones[i]
			return &z, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListActiveZones(ctx context.Context) ([]entity.Zone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Zone
	for _, z := range m.zones {
		if z.Active {
			out = append(out, z)
		}
	}
	return out, nil
}

func (m *memStore) EnsureRouteGroup(ctx context.Context, zoneID uuid.UUID, date time.Time, slot string) (*entity.RouteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.ZoneID == zoneID && g.ServiceDate.Equal(date) && g.TimeSlot == slot {
			cp := *g
			return &cp, nil
		}
	}
	g := &entity.RouteGroup{ID: uuid.New(), ZoneID: zoneID, ServiceDate: date, TimeSlot: slot}
	m.groups[g.ID] = g
	cp := *g
	return &cp, nil
}

func (m *memStore) GetRouteGroup(ctx context.Context, id uuid.UUID) (*entity.RouteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) ListRouteGroupsFrom(ctx context.Context, from time.Time) ([]entity.RouteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.RouteGroup
	for _, g := range m.groups {
		if !g.ServiceDate.Before(from) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *memStore) SaveRouteOptimization(ctx context.Context, groupID uuid.UUID, opt entity.RouteOptimization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return repository.ErrNotFound
	}
	m.saved[groupID] = opt
	return nil
}

type fakeGeocoder struct {
	coords *entity.Coordinates
	err    error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (*entity.Coordinates, error) {
	return f.coords, f.err
}

type scheduled struct {
	name    service.TaskName
	payload any
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
}

func (s *recordingScheduler) Schedule(ctx context.Context, name service.TaskName, payload any, opts ...service.ScheduleOption) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, scheduled{name: name, payload: payload})
	raw, _ := json.Marshal(payload)
	return &entity.Job{ID: uuid.New(), Name: string(name), Payload: raw, Status: entity.StatusPending}, nil
}

type recordingSender struct {
	sent []notify.Email
}

func (s *recordingSender) Send(ctx context.Context, msg notify.Email) error {
	s.sent = append(s.sent, msg)
	return nil
}
