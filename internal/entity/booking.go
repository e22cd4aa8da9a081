package entity

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is how service dates are stored and exchanged.
const DateLayout = "2006-01-02"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Booking struct {
	ID            uuid.UUID    `json:"id"`
	CustomerName  string       `json:"customer_name"`
	Email         string       `json:"email,omitempty"`
	Address       string       `json:"address"`
	Location      *Coordinates `json:"location,omitempty"`
	ZoneID        *uuid.UUID   `json:"zone_id,omitempty"`
	RouteGroupID  *uuid.UUID   `json:"route_group_id,omitempty"`
	ServiceDate   time.Time    `json:"service_date"`
	TimeSlot      string       `json:"time_slot"`
	RoutePosition *int         `json:"route_position,omitempty"`
	RouteCluster  *int         `json:"route_cluster,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Zone is a service area: a centre and a radius in miles.
type Zone struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Center    Coordinates `json:"center"`
	RadiusMi  float64     `json:"radius_mi"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
}

// RouteGroup is every booking served together in one zone, day and time slot.
type RouteGroup struct {
	ID               uuid.UUID  `json:"id"`
	ZoneID           uuid.UUID  `json:"zone_id"`
	ServiceDate      time.Time  `json:"service_date"`
	TimeSlot         string     `json:"time_slot"`
	TotalDistanceMi  *float64   `json:"total_distance_mi,omitempty"`
	EstimatedMinutes *int       `json:"estimated_minutes,omitempty"`
	ClusterCount     int        `json:"cluster_count"`
	OptimizedAt      *time.Time `json:"optimized_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

type RouteStop struct {
	BookingID uuid.UUID `json:"booking_id"`
	Position  int       `json:"position"`
	Cluster   int       `json:"cluster"`
}

// RouteOptimization is the write-back of one optimize-routes run for a group.
type RouteOptimization struct {
	Stops            []RouteStop `json:"stops"`
	TotalDistanceMi  float64     `json:"total_distance_mi"`
	EstimatedMinutes int         `json:"estimated_minutes"`
	ClusterCount     int         `json:"cluster_count"`
	OptimizedAt      time.Time   `json:"optimized_at"`
}

// ServiceDay truncates t to midnight UTC of its calendar date in t's location.
func ServiceDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
