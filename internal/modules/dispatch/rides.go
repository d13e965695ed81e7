// README: Ride lifecycle operations and the shared post-assignment fan-out.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/ride"
	"ridebid/internal/observability"
	"ridebid/internal/types"
)

// CreateRide opens a request and announces it to eligible drivers.
func (e *Engine) CreateRide(ctx context.Context, cmd ride.CreateCommand) (*ride.Ride, error) {
	r, err := e.rides.Create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.ActionRideCreate, r.PassengerID, audit.ResourceRide, r.ID, map[string]any{
		"offered_price": r.OfferedPrice.String(),
		"vehicle_type":  r.VehicleType,
		"expires_at":    r.ExpiresAt,
	})
	e.publish(ctx, events.RideNew, r.ID, e.newRideAudience(ctx, r), map[string]any{"ride": r})
	return r, nil
}

// newRideAudience targets fresh nearby drivers who have not blocked the
// ride, or the vehicle rooms when no driver positions are known.
func (e *Engine) newRideAudience(ctx context.Context, r *ride.Ride) []events.Audience {
	if e.positions != nil {
		nearby, err := e.positions.Nearby(ctx, r.Origin.Point, e.cfg.NearbyRadiusKm, e.cfg.NearbyLimit)
		if err != nil {
			e.log.Warn("nearby drivers lookup failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
		}
		sub := block.Subject{PassengerID: r.PassengerID, OriginAddress: r.Origin.Address}
		var out []events.Audience
		for _, n := range nearby {
			snap, err := e.blocks.SnapshotAt(ctx, n.DriverID, e.now())
			if err != nil || snap.Check(sub).Blocked {
				continue
			}
			out = append(out, events.Driver(n.DriverID))
		}
		if len(out) > 0 {
			return out
		}
	}
	return roomsFor(r.VehicleType)
}

func roomsFor(v ride.VehicleType) []events.Audience {
	if v == ride.VehicleAny || v == "" {
		return []events.Audience{
			events.Room(events.DriverRoom(string(ride.VehicleTaxi))),
			events.Room(events.DriverRoom(string(ride.VehicleMoto))),
			events.Room(events.DriverRoom(string(ride.VehicleAny))),
		}
	}
	return []events.Audience{
		events.Room(events.DriverRoom(string(v))),
		events.Room(events.DriverRoom(string(ride.VehicleAny))),
	}
}

func (e *Engine) GetRide(ctx context.Context, id types.ID) (*ride.Ride, error) {
	return e.rides.Get(ctx, id)
}

// RideHistory lists the state transitions recorded for a ride.
func (e *Engine) RideHistory(ctx context.Context, id types.ID) ([]ride.Event, error) {
	return e.rides.History(ctx, id)
}

// DeleteRide hides a ride from every read path; RestoreRide undoes it.
func (e *Engine) DeleteRide(ctx context.Context, id, adminID types.ID) error {
	if err := e.rides.SoftDelete(ctx, id, adminID); err != nil {
		return err
	}
	e.record(ctx, audit.ActionRideDelete, adminID, audit.ResourceRide, id, nil)
	return nil
}

func (e *Engine) RestoreRide(ctx context.Context, id, adminID types.ID) error {
	if err := e.rides.Restore(ctx, id); err != nil {
		return err
	}
	e.record(ctx, audit.ActionRideRestore, adminID, audit.ResourceRide, id, nil)
	return nil
}

func (e *Engine) MarkEnRoute(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	return e.advance(ctx, rideID, driverID, ride.StatusDriverEnRoute)
}

func (e *Engine) MarkArrived(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	return e.advance(ctx, rideID, driverID, ride.StatusDriverArrived)
}

func (e *Engine) StartTrip(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	return e.advance(ctx, rideID, driverID, ride.StatusInProgress)
}

func (e *Engine) CompleteTrip(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	return e.advance(ctx, rideID, driverID, ride.StatusCompleted)
}

func (e *Engine) advance(ctx context.Context, rideID, driverID types.ID, to ride.Status) (*ride.Ride, error) {
	r, err := e.rides.Advance(ctx, ride.ProgressCommand{RideID: rideID, DriverID: driverID, To: to})
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.ActionRideProgress, driverID, audit.ResourceRide, r.ID, map[string]any{"status": r.Status})
	e.publish(ctx, events.RideProgress, r.ID, []events.Audience{events.Passenger(r.PassengerID)}, map[string]any{
		"status":    r.Status,
		"driver_id": driverID,
	})
	return r, nil
}

// CancelRide cancels the ride and closes its holds and open bids.
func (e *Engine) CancelRide(ctx context.Context, cmd ride.CancelCommand) (*ride.Ride, error) {
	r, err := e.rides.Cancel(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if _, err := e.holds.Resolve(ctx, r.ID, ""); err != nil {
		e.log.Warn("release holds on cancel failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
	}
	declined, err := e.bids.Settle(ctx, r.ID, "")
	if err != nil {
		e.log.Warn("decline bids on cancel failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
	}

	e.record(ctx, audit.ActionRideCancel, cmd.ActorID, audit.ResourceRide, r.ID, map[string]any{
		"actor_type": cmd.ActorType,
		"reason":     cmd.Reason,
	})
	audience := []events.Audience{events.Passenger(r.PassengerID)}
	if r.MatchedDriverID != nil {
		audience = append(audience, events.Driver(*r.MatchedDriverID))
	}
	for _, d := range declined {
		audience = append(audience, events.Driver(d))
	}
	e.publish(ctx, events.RideCancelled, r.ID, audience, map[string]any{
		"cancelled_by": cmd.ActorType,
		"reason":       cmd.Reason,
	})
	return r, nil
}

func (e *Engine) UpdateDriverPosition(ctx context.Context, driverID types.ID, p types.Point) error {
	if driverID == "" {
		return apperr.ErrBadRequest.WithReason("missing driver id")
	}
	if !p.Valid() {
		return apperr.ErrBadRequest.WithReason("invalid coordinates")
	}
	if e.positions == nil {
		return nil
	}
	return e.positions.Update(ctx, driverID, p, e.now())
}

// assign performs the single requested -> assigned CAS at the version the
// caller validated, then settles holds and bids.
func (e *Engine) assign(ctx context.Context, r *ride.Ride, driverID types.ID, price types.Money, actorType string, actorID types.ID, via string) (*ride.Ride, error) {
	version := r.StatusVersion
	assigned, err := e.rides.Assign(ctx, ride.AssignCommand{
		RideID:   r.ID,
		DriverID: driverID,
		Price:    price,
		Version:  &version,
	})
	if err != nil {
		return nil, err
	}
	observability.MatchesTotal.Inc()
	e.afterMatch(ctx, assigned, actorType, actorID, via)
	return assigned, nil
}

func (e *Engine) afterMatch(ctx context.Context, r *ride.Ride, actorType string, actorID types.ID, via string) {
	winner := *r.MatchedDriverID
	losers := map[types.ID]struct{}{}

	closed, err := e.holds.Resolve(ctx, r.ID, winner)
	if err != nil {
		e.log.Warn("resolve hold after match failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
	}
	if closed != nil && closed.DriverID != winner {
		losers[closed.DriverID] = struct{}{}
	}
	declined, err := e.bids.Settle(ctx, r.ID, winner)
	if err != nil {
		e.log.Warn("settle bids after match failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
	}
	for _, d := range declined {
		losers[d] = struct{}{}
	}

	e.record(ctx, audit.ActionRideAssign, actorID, audit.ResourceRide, r.ID, map[string]any{
		"actor_type":  actorType,
		"driver_id":   winner,
		"final_price": r.FinalPrice.String(),
		"via":         via,
	})

	e.publish(ctx, events.BidAccepted, r.ID, []events.Audience{events.Driver(winner)}, map[string]any{
		"final_price": r.FinalPrice,
		"passenger":   r.PassengerID,
		"via":         via,
	})
	audience := []events.Audience{events.Passenger(r.PassengerID)}
	for d := range losers {
		audience = append(audience, events.Driver(d))
	}
	e.publish(ctx, events.RideMatched, r.ID, audience, map[string]any{
		"driver_id":   winner,
		"final_price": r.FinalPrice,
	})
}
