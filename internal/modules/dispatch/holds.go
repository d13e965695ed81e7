// README: Hold operations exposed to drivers.
package dispatch

import (
	"context"
	"errors"

	"ridebid/internal/apperr"
	"ridebid/internal/audit"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/hold"
	"ridebid/internal/observability"
	"ridebid/internal/types"
)

// PutOnHold reserves an open ride for driverID. minutes == 0 uses the
// default duration. A live hold by another driver yields ErrHoldConflict.
func (e *Engine) PutOnHold(ctx context.Context, driverID, rideID types.ID, minutes int) (*hold.Hold, error) {
	r, err := e.rides.CheckOpen(ctx, rideID)
	if err != nil {
		observability.HoldsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	verdict, err := e.blocks.IsBlocked(ctx, driverID, block.Subject{PassengerID: r.PassengerID, OriginAddress: r.Origin.Address})
	if err != nil {
		return nil, err
	}
	if verdict.Blocked {
		observability.HoldsTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.ErrBlocked.WithState(verdict)
	}
	h, err := e.holds.Put(ctx, driverID, rideID, minutes)
	if err != nil {
		outcome := "rejected"
		if errors.Is(err, apperr.ErrHoldConflict) {
			outcome = "conflict"
		}
		observability.HoldsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	observability.HoldsTotal.WithLabelValues("acquired").Inc()
	e.record(ctx, audit.ActionHoldPut, driverID, audit.ResourceHold, h.ID, map[string]any{
		"ride_id":    rideID,
		"expires_at": h.ExpiresAt,
	})
	return h, nil
}

// ReleaseHold is idempotent: releasing a missing or lapsed hold succeeds.
func (e *Engine) ReleaseHold(ctx context.Context, driverID, rideID types.ID) error {
	if driverID == "" || rideID == "" {
		return apperr.ErrBadRequest.WithReason("missing driver or ride id")
	}
	released, err := e.holds.Release(ctx, driverID, rideID)
	if err != nil {
		return err
	}
	if released {
		observability.HoldsTotal.WithLabelValues("released").Inc()
		e.record(ctx, audit.ActionHoldRelease, driverID, audit.ResourceHold, rideID, nil)
	}
	return nil
}

// ListHeldRides returns the driver's active, unexpired holds.
func (e *Engine) ListHeldRides(ctx context.Context, driverID types.ID) ([]hold.Hold, error) {
	if driverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing driver id")
	}
	return e.holds.ListActiveForDriver(ctx, driverID)
}
