package pipeline

import (
	"context"
	"fmt"

	"field-route-service/internal/entity"
	"field-route-service/internal/geo"
)

type ZoneLocator struct {
	zones ZoneStore
}

func NewZoneLocator(zones ZoneStore) *ZoneLocator {
	return &ZoneLocator{zones: zones}
}

// Locate returns the nearest active zone whose radius covers c, or nil.
// Equidistant zones resolve to the first in store order.
func (l *ZoneLocator) Locate(ctx context.Context, c entity.Coordinates) (*entity.Zone, error) {
	zones, err := l.zones.ListActiveZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}

	var (
		best     *entity.Zone
		bestDist float64
	)
	for i := range zones {
		z := &zones[i]
		d := geo.Distance(c.Lat, c.Lng, z.Center.Lat, z.Center.Lng)
		if d > z.RadiusMi {
			continue
		}
		if best == nil || d < bestDist {
			best, bestDist = z, d
		}
	}
	return best, nil
}
