package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"field-route-service/internal/entity"
	"field-route-service/internal/repository"
)

const bookingColumns = `id, customer_name, email, address, lat, lng, zone_id, route_group_id,
service_date, time_slot, route_position, route_cluster, created_at`

func scanBooking(row scanner) (*entity.Booking, error) {
	var (
		b                 entity.Booking
		lat, lng          sql.NullFloat64
		zoneID, groupID   uuid.NullUUID
		serviceDate       string
		position, cluster sql.NullInt64
		createdAt         int64
	)
	if err := row.Scan(
		&b.ID, &b.CustomerName, &b.Email, &b.Address, &lat, &lng, &zoneID, &groupID,
		&serviceDate, &b.TimeSlot, &position, &cluster, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if lat.Valid && lng.Valid {
		b.Location = &entity.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	if zoneID.Valid {
		b.ZoneID = &zoneID.UUID
	}
	if groupID.Valid {
		b.RouteGroupID = &groupID.UUID
	}
	d, err := time.Parse(entity.DateLayout, serviceDate)
	if err != nil {
		return nil, err
	}
	b.ServiceDate = d
	if position.Valid {
		p := int(position.Int64)
		b.RoutePosition = &p
	}
	if cluster.Valid {
		c := int(cluster.Int64)
		b.RouteCluster = &c
	}
	b.CreatedAt = fromMillis(createdAt)
	return &b, nil
}

func (s *Store) CreateBooking(ctx context.Context, b *entity.Booking) error {
	const q = `INSERT INTO bookings (id, customer_name, email, address, lat, lng, zone_id,
service_date, time_slot, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lat, lng sql.NullFloat64
	if b.Location != nil {
		lat = sql.NullFloat64{Float64: b.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: b.Location.Lng, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		b.ID.String(), b.CustomerName, b.Email, b.Address, lat, lng, nullUUID(b.ZoneID),
		b.ServiceDate.Format(entity.DateLayout), b.TimeSlot, millis(b.CreatedAt),
	)
	return err
}

func (s *Store) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, `DELETE FROM bookings WHERE id = ?`, id.String())
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return scanBooking(s.db.QueryRowContext(ctx, q, id.String()))
}

func (s *Store) SetBookingLocation(ctx context.Context, id uuid.UUID, loc entity.Coordinates, zoneID *uuid.UUID) error {
	const q = `UPDATE bookings SET lat = ?, lng = ?, zone_id = ? WHERE id = ?`
	return s.execOne(ctx, q, loc.Lat, loc.Lng, nullUUID(zoneID), id.String())
}

func (s *Store) SetBookingRouteGroup(ctx context.Context, id, groupID uuid.UUID) error {
	const q = `UPDATE bookings
SET route_group_id = ?, route_position = NULL, route_cluster = NULL
WHERE id = ?`
	return s.execOne(ctx, q, groupID.String(), id.String())
}

func (s *Store) ListBookingsByRouteGroup(ctx context.Context, groupID uuid.UUID) ([]entity.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
WHERE route_group_id = ?
ORDER BY created_at ASC, id ASC`
	return s.listBookings(ctx, q, groupID.String())
}

func (s *Store) ListBookingsByDate(ctx context.Context, date time.Time) ([]entity.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
WHERE service_date = ?
ORDER BY created_at ASC, id ASC`
	return s.listBookings(ctx, q, date.Format(entity.DateLayout))
}

func (s *Store) listBookings(ctx context.Context, q string, args ...any) ([]entity.Booking, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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

func (s *Store) CreateZone(ctx context.Context, z *entity.Zone) error {
	const q = `INSERT INTO zones (id, name, center_lat, center_lng, radius_mi, active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		z.ID.String(), z.Name, z.Center.Lat, z.Center.Lng, z.RadiusMi, z.Active, millis(z.CreatedAt))
	return err
}

func scanZone(row scanner) (*entity.Zone, error) {
	var (
		z         entity.Zone
		createdAt int64
	)
	if err := row.Scan(&z.ID, &z.Name, &z.Center.Lat, &z.Center.Lng, &z.RadiusMi, &z.Active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	z.CreatedAt = fromMillis(createdAt)
	return &z, nil
}

const zoneColumns = `id, name, center_lat, center_lng, radius_mi, active, created_at`

func (s *Store) GetZone(ctx context.Context, id uuid.UUID) (*entity.Zone, error) {
	const q = `SELECT ` + zoneColumns + ` FROM zones WHERE id = ?`
	return scanZone(s.db.QueryRowContext(ctx, q, id.String()))
}

func (s *Store) ListActiveZones(ctx context.Context) ([]entity.Zone, error) {
	const q = `SELECT ` + zoneColumns + ` FROM zones WHERE active = 1 ORDER BY name ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q)
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

func scanRouteGroup(row scanner) (*entity.RouteGroup, error) {
	var (
		g           entity.RouteGroup
		serviceDate string
		distance    sql.NullFloat64
		minutes     sql.NullInt64
		optimizedAt sql.NullInt64
		createdAt   int64
	)
	if err := row.Scan(
		&g.ID, &g.ZoneID, &serviceDate, &g.TimeSlot, &distance,
		&minutes, &g.ClusterCount, &optimizedAt, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	d, err := time.Parse(entity.DateLayout, serviceDate)
	if err != nil {
		return nil, err
	}
	g.ServiceDate = d
	if distance.Valid {
		g.TotalDistanceMi = &distance.Float64
	}
	if minutes.Valid {
		m := int(minutes.Int64)
		g.EstimatedMinutes = &m
	}
	g.OptimizedAt = timePtr(optimizedAt)
	g.CreatedAt = fromMillis(createdAt)
	return &g, nil
}

// EnsureRouteGroup returns the group for (zone, date, slot), creating it if
// needed. The unique key makes concurrent calls converge on one row.
func (s *Store) EnsureRouteGroup(ctx context.Context, zoneID uuid.UUID, date time.Time, slot string) (*entity.RouteGroup, error) {
	const q = `INSERT INTO route_groups (id, zone_id, service_date, time_slot, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (zone_id, service_date, time_slot) DO UPDATE SET time_slot = excluded.time_slot
RETURNING ` + routeGroupColumns

	return scanRouteGroup(s.db.QueryRowContext(ctx, q,
		uuid.NewString(), zoneID.String(), date.Format(entity.DateLayout), slot, millis(time.Now())))
}

func (s *Store) GetRouteGroup(ctx context.Context, id uuid.UUID) (*entity.RouteGroup, error) {
	const q = `SELECT ` + routeGroupColumns + ` FROM route_groups WHERE id = ?`
	return scanRouteGroup(s.db.QueryRowContext(ctx, q, id.String()))
}

func (s *Store) ListRouteGroupsFrom(ctx context.Context, from time.Time) ([]entity.RouteGroup, error) {
	const q = `SELECT ` + routeGroupColumns + ` FROM route_groups
WHERE service_date >= ?
ORDER BY service_date ASC, time_slot ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, from.Format(entity.DateLayout))
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

// SaveRouteOptimization replaces the route order of a group in one transaction.
func (s *Store) SaveRouteOptimization(ctx context.Context, groupID uuid.UUID, opt entity.RouteOptimization) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET route_position = NULL, route_cluster = NULL WHERE route_group_id = ?`,
			groupID.String()); err != nil {
			return err
		}

		for _, stop := range opt.Stops {
			if _, err := tx.ExecContext(ctx,
				`UPDATE bookings SET route_position = ?, route_cluster = ? WHERE id = ? AND route_group_id = ?`,
				stop.Position, stop.Cluster, stop.BookingID.String(), groupID.String()); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `UPDATE route_groups
SET total_distance_mi = ?, estimated_minutes = ?, cluster_count = ?, optimized_at = ?
WHERE id = ?`,
			opt.TotalDistanceMi, opt.EstimatedMinutes, opt.ClusterCount, millis(opt.OptimizedAt), groupID.String())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}
