package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"field-route-service/internal/entity"
	"field-route-service/internal/repository"
)

const bookingColumns = `id, customer_name, email, address, lat, lng, zone_id, route_group_id,
service_date, time_slot, route_position, route_cluster, created_at`

func scanBooking(row pgx.Row) (*entity.Booking, error) {
	var (
		b        entity.Booking
		lat, lng *float64
	)
	if err := row.Scan(
		&b.ID, &b.CustomerName, &b.Email, &b.Address, &lat, &lng, &b.ZoneID, &b.RouteGroupID,
		&b.ServiceDate, &b.TimeSlot, &b.RoutePosition, &b.RouteCluster, &b.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if lat != nil && lng != nil {
		b.Location = &entity.Coordinates{Lat: *lat, Lng: *lng}
	}
	return &b, nil
}

func (s *Store) CreateBooking(ctx context.Context, b *entity.Booking) error {
	const q = `INSERT INTO bookings (id, customer_name, email, address, lat, lng, zone_id,
service_date, time_slot, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var lat, lng *float64
	if b.Location != nil {
		lat, lng = &b.Location.Lat, &b.Location.Lng
	}
	_, err := s.pool.Exec(ctx, q,
		b.ID, b.CustomerName, b.Email, b.Address, lat, lng, b.ZoneID,
		b.ServiceDate, b.TimeSlot, b.CreatedAt,
	)
	return err
}

func (s *Store) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, `DELETE FROM bookings WHERE id = $1`, id)
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) SetBookingLocation(ctx context.Context, id uuid.UUID, loc entity.Coordinates, zoneID *uuid.UUID) error {
	const q = `UPDATE bookings SET lat = $2, lng = $3, zone_id = $4 WHERE id = $1`
	return s.execOne(ctx, q, id, loc.Lat, loc.Lng, zoneID)
}

func (s *Store) SetBookingRouteGroup(ctx context.Context, id, groupID uuid.UUID) error {
	const q = `UPDATE bookings
SET route_group_id = $2, route_position = NULL, route_cluster = NULL
WHERE id = $1`
	return s.execOne(ctx, q, id, groupID)
}

func (s *Store) ListBookingsByRouteGroup(ctx context.Context, groupID uuid.UUID) ([]entity.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
WHERE route_group_id = $1
ORDER BY created_at ASC, id ASC`
	return s.listBookings(ctx, q, groupID)
}

func (s *Store) ListBookingsByDate(ctx context.Context, date time.Time) ([]entity.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
WHERE service_date = $1
ORDER BY created_at ASC, id ASC`
	return s.listBookings(ctx, q, entity.ServiceDay(date))
}

func (s *Store) listBookings(ctx context.Context, q string, args ...any) ([]entity.Booking, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Zones

const zoneColumns = `id, name, center_lat, center_lng, radius_mi, active, created_at`

func scanZone(row pgx.Row) (*entity.Zone, error) {
	var z entity.Zone
	if err := row.Scan(&z.ID, &z.Name, &z.Center.Lat, &z.Center.Lng, &z.RadiusMi, &z.Active, &z.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &z, nil
}

func (s *Store) CreateZone(ctx context.Context, z *entity.Zone) error {
	const q = `INSERT INTO zones (id, name, center_lat, center_lng, radius_mi, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, z.ID, z.Name, z.Center.Lat, z.Center.Lng, z.RadiusMi, z.Active, z.CreatedAt)
	return err
}

func (s *Store) GetZone(ctx context.Context, id uuid.UUID) (*entity.Zone, error) {
	const q = `SELECT ` + zoneColumns + ` FROM zones WHERE id = $1`
	return scanZone(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) ListActiveZones(ctx context.Context) ([]entity.Zone, error) {
	const q = `SELECT ` + zoneColumns + ` FROM zones WHERE active ORDER BY name ASC, id ASC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *z)
	}
	return out, rows.Err()
}

// Route groups

const routeGroupColumns = `id, zone_id, service_date, time_slot, total_distance_mi,
estimated_minutes, cluster_count, optimized_at, created_at`

func scanRouteGroup(row pgx.Row) (*entity.RouteGroup, error) {
	var g entity.RouteGroup
	if err := row.Scan(
		&g.ID, &g.ZoneID, &g.ServiceDate, &g.TimeSlot, &g.TotalDistanceMi,
		&g.EstimatedMinutes, &g.ClusterCount, &g.OptimizedAt, &g.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// EnsureRouteGroup returns the group for (zone, date, slot), creating it if
// needed. The no-op DO UPDATE makes RETURNING yield the existing row.
func (s *Store) EnsureRouteGroup(ctx context.Context, zoneID uuid.UUID, date time.Time, slot string) (*entity.RouteGroup, error) {
	const q = `INSERT INTO route_groups (id, zone_id, service_date, time_slot, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (zone_id, service_date, time_slot) DO UPDATE SET time_slot = EXCLUDED.time_slot
RETURNING ` + routeGroupColumns

	return scanRouteGroup(s.pool.QueryRow(ctx, q, uuid.New(), zoneID, entity.ServiceDay(date), slot, time.Now().UTC()))
}

func (s *Store) GetRouteGroup(ctx context.Context, id uuid.UUID) (*entity.RouteGroup, error) {
	const q = `SELECT ` + routeGroupColumns + ` FROM route_groups WHERE id = $1`
	return scanRouteGroup(s.pool.QueryRow(ctx, q, id))
}

func (s *Store) ListRouteGroupsFrom(ctx context.Context, from time.Time) ([]entity.RouteGroup, error) {
	const q = `SELECT ` + routeGroupColumns + ` FROM route_groups
WHERE service_date >= $1
ORDER BY service_date ASC, time_slot ASC, id ASC`

	rows, err := s.pool.Query(ctx, q, entity.ServiceDay(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.RouteGroup
	for rows.Next() {
		g, err := scanRouteGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) SaveRouteOptimization(ctx context.Context, groupID uuid.UUID, opt entity.RouteOptimization) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE bookings SET route_position = NULL, route_cluster = NULL WHERE route_group_id = $1`,
			groupID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, stop := range opt.Stops {
			batch.Queue(
				`UPDATE bookings SET route_position = $3, route_cluster = $4 WHERE id = $1 AND route_group_id = $2`,
				stop.BookingID, groupID, stop.Position, stop.Cluster)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `UPDATE route_groups
SET total_distance_mi = $2, estimated_minutes = $3, cluster_count = $4, optimized_at = $5
WHERE id = $1`,
			groupID, opt.TotalDistanceMi, opt.EstimatedMinutes, opt.ClusterCount, opt.OptimizedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
