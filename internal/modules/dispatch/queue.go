// README: Driver queue: open rides minus blocked passengers/addresses and
// rides held by other drivers, nearest first. Read-only.
package dispatch

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/geo"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/ride"
	"ridebid/internal/observability"
	"ridebid/internal/types"
)

type QueueQuery struct {
	DriverID    types.ID
	VehicleType ride.VehicleType
	// Location overrides the driver's last reported position.
	Location *types.Point
	Limit    int
}

type RideView struct {
	ride.Ride
	DistanceKm *float64 `json:"distance_km,omitempty"`
	ETASeconds *int64   `json:"eta_seconds,omitempty"`
	// HeldByMe is set when the querying driver holds the ride.
	HeldByMe bool `json:"held_by_me,omitempty"`
}

func (e *Engine) GetQueue(ctx context.Context, q QueueQuery) ([]RideView, error) {
	if q.DriverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing driver id")
	}
	if q.VehicleType != "" && !q.VehicleType.Valid() {
		return nil, apperr.ErrBadVehicle
	}
	if q.Location != nil && !q.Location.Valid() {
		return nil, apperr.ErrBadRequest.WithReason("invalid coordinates")
	}
	limit := q.Limit
	if limit <= 0 || limit > e.cfg.QueueLimit {
		limit = e.cfg.QueueLimit
	}

	now := e.now()
	open, err := e.openRides(ctx, now, q.VehicleType)
	if err != nil {
		return nil, err
	}
	snap, err := e.blocks.SnapshotAt(ctx, q.DriverID, now)
	if err != nil {
		return nil, err
	}
	holders, err := e.holds.HoldersAt(ctx, now)
	if err != nil {
		return nil, err
	}

	views := make([]RideView, 0, len(open))
	for _, r := range open {
		if !r.IsOpen(now) || !ride.Compatible(r.VehicleType, q.VehicleType) {
			continue
		}
		holder, held := holders[r.ID]
		if held && holder != q.DriverID {
			continue
		}
		if snap.Check(block.Subject{PassengerID: r.PassengerID, OriginAddress: r.Origin.Address}).Blocked {
			continue
		}
		views = append(views, RideView{Ride: *r, HeldByMe: held})
	}

	if from, ok := e.driverLocation(ctx, q); ok && len(views) > 0 {
		e.annotate(ctx, from, views)
	}
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.DistanceKm != nil && b.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm {
			return *a.DistanceKm < *b.DistanceKm
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if len(views) > limit {
		views = views[:limit]
	}
	observability.QueueSize.Observe(float64(len(views)))
	return views, nil
}

// openRides pages through every open ride the vehicle type can serve, so
// distance ordering sees the whole pool rather than the oldest page.
func (e *Engine) openRides(ctx context.Context, now time.Time, vehicle ride.VehicleType) ([]*ride.Ride, error) {
	q := ride.OpenQuery{Now: now, Vehicles: ride.ServedBy(vehicle), Limit: e.cfg.OpenPageSize}
	var out []*ride.Ride
	for {
		page, err := e.rides.ListOpen(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < q.Limit {
			return out, nil
		}
		q.After = ride.CursorAfter(page[len(page)-1])
	}
}

func (e *Engine) driverLocation(ctx context.Context, q QueueQuery) (types.Point, bool) {
	if q.Location != nil {
		return *q.Location, true
	}
	if e.positions == nil {
		return types.Point{}, false
	}
	p, ok, err := e.positions.Position(ctx, q.DriverID)
	if err != nil {
		e.log.Warn("driver position lookup failed", zap.String("driver_id", string(q.DriverID)), zap.Error(err))
		return types.Point{}, false
	}
	return p, ok
}

// annotate fills distance and ETA. A failing estimator degrades to
// straight-line distance without an ETA.
func (e *Engine) annotate(ctx context.Context, from types.Point, views []RideView) {
	pickups := make([]types.Point, len(views))
	for i := range views {
		pickups[i] = views[i].Origin.Point
	}
	est, err := geo.EstimateAll(ctx, e.geo, from, pickups)
	if err != nil {
		e.log.Warn("eta estimate failed", zap.Error(err))
		for i := range views {
			d := geo.HaversineKm(from, pickups[i])
			views[i].DistanceKm = &d
		}
		return
	}
	for i := range views {
		d := est[i].DistanceKm
		secs := int64(est[i].ETA.Seconds())
		views[i].DistanceKm = &d
		views[i].ETASeconds = &secs
	}
}
