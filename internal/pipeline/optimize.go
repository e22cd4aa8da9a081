package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"field-route-service/internal/cluster"
	"field-route-service/internal/entity"
	"field-route-service/internal/geo"
	"field-route-service/internal/repository"
	"field-route-service/internal/route"
	"field-route-service/internal/service"
)

// OptimizeRoutes re-plans one route group, or every group from today on when
// the payload names none. Groups are independent and run in parallel.
func (h *Handlers) OptimizeRoutes(ctx context.Context, p entity.RouteGroupPayload) error {
	groups, err := h.groupsToOptimize(ctx, p)
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(h.settings.OptimizeConcurrency)
	for i := range groups {
		group := groups[i]
		g.Go(func() error {
			if err := h.optimizeGroup(ctx, group); err != nil {
				h.logger.Error("route group optimization failed", "route_group_id", group.ID, "error", err)
				return fmt.Errorf("route group %s: %w", group.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	h.logger.Info("routes optimized", "groups", len(groups))
	return nil
}

func (h *Handlers) groupsToOptimize(ctx context.Context, p entity.RouteGroupPayload) ([]entity.RouteGroup, error) {
	if p.RouteGroupID != nil {
		g, err := h.store.GetRouteGroup(ctx, *p.RouteGroupID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.Permanent(fmt.Errorf("route group %s: %w", *p.RouteGroupID, err))
		}
		if err != nil {
			return nil, err
		}
		return []entity.RouteGroup{*g}, nil
	}

	today := entity.ServiceDay(h.now().In(h.settings.Location))
	groups, err := h.store.ListRouteGroupsFrom(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list route groups: %w", err)
	}
	return groups, nil
}

func (h *Handlers) optimizeGroup(ctx context.Context, group entity.RouteGroup) error {
	zone, err := h.store.GetZone(ctx, group.ZoneID)
	if err != nil {
		return fmt.Errorf("load zone: %w", err)
	}
	bookings, err := h.store.ListBookingsByRouteGroup(ctx, group.ID)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}

	points := make([]geo.Point, 0, len(bookings))
	for _, b := range bookings {
		if b.Location == nil || !geo.ValidCoordinates(b.Location.Lat, b.Location.Lng) {
			h.logger.Warn("booking skipped: no usable location", "booking_id", b.ID, "route_group_id", group.ID)
			continue
		}
		points = append(points, geo.Point{ID: b.ID.String(), Lat: b.Location.Lat, Lng: b.Location.Lng})
	}

	depot := geo.Point{ID: "depot:" + zone.ID.String(), Lat: zone.Center.Lat, Lng: zone.Center.Lng}
	opt, err := PlanRoute(points, depot, h.settings)
	if err != nil {
		return err
	}
	opt.OptimizedAt = h.now().UTC()

	if err := h.store.SaveRouteOptimization(ctx, group.ID, opt); err != nil {
		return fmt.Errorf("save optimization: %w", err)
	}
	h.logger.Info("route group optimized",
		"route_group_id", group.ID, "stops", len(opt.Stops), "clusters", opt.ClusterCount,
		"distance_mi", opt.TotalDistanceMi, "estimated_minutes", opt.EstimatedMinutes)
	return nil
}

type plannedCluster struct {
	result   route.Result
	firstLeg float64
}

// PlanRoute clusters points, sequences each cluster from the depot, and
// numbers the stops across clusters. Clusters are visited nearest first
// (by the depot-to-first-stop leg, then by first stop id). Point ids must be
// booking ids.
func PlanRoute(points []geo.Point, depot geo.Point, s Settings) (entity.RouteOptimization, error) {
	byID := make(map[string]geo.Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}

	var planned []plannedCluster
	for _, c := range cluster.DBSCAN(points, s.Cluster) {
		res := route.Optimize(c, &depot)
		if len(res.Order) == 0 {
			continue
		}
		first := byID[res.Order[0]]
		planned = append(planned, plannedCluster{result: res, firstLeg: depot.DistanceTo(first)})
	}
	sort.SliceStable(planned, func(i, j int) bool {
		if planned[i].firstLeg != planned[j].firstLeg {
			return planned[i].firstLeg < planned[j].firstLeg
		}
		return planned[i].result.Order[0] < planned[j].result.Order[0]
	})

	opt := entity.RouteOptimization{ClusterCount: len(planned)}
	var total float64
	for ci, pc := range planned {
		total += pc.result.TotalDistance
		for _, id := range pc.result.Order {
			bookingID, err := uuid.Parse(id)
			if err != nil {
				return entity.RouteOptimization{}, service.Permanent(fmt.Errorf("stop id %q: %w", id, err))
			}
			opt.Stops = append(opt.Stops, entity.RouteStop{
				BookingID: bookingID,
				Position:  len(opt.Stops),
				Cluster:   ci,
			})
		}
	}

	opt.TotalDistanceMi = math.Round(total*100) / 100
	opt.EstimatedMinutes = EstimateMinutes(opt.TotalDistanceMi, len(opt.Stops), s)
	return opt, nil
}

// EstimateMinutes is drive time at the average speed plus a fixed time per stop.
func EstimateMinutes(distanceMi float64, stops int, s Settings) int {
	if s.AvgSpeedMPH <= 0 {
		return int(math.Round(s.StopMinutes * float64(stops)))
	}
	return int(math.Round(distanceMi/s.AvgSpeedMPH*60 + s.StopMinutes*float64(stops)))
}
