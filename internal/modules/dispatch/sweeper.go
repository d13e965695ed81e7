// README: Periodic expiry of rides and holds and purge of lapsed blocks.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/observability"
)

type SweepResult struct {
	Rides  int
	Holds  int
	Blocks int
}

// Sweep persists expiry for lapsed rides and holds. Reads already treat
// them as expired, so a missed sweep only delays cleanup.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	ids, err := e.rides.ExpireDue(ctx)
	if err != nil {
		return res, err
	}
	res.Rides = len(ids)
	for _, id := range ids {
		if _, err := e.holds.Resolve(ctx, id, ""); err != nil {
			e.log.Warn("release holds on expiry failed", zap.String("ride_id", string(id)), zap.Error(err))
		}
		declined, err := e.bids.Settle(ctx, id, "")
		if err != nil {
			e.log.Warn("decline bids on expiry failed", zap.String("ride_id", string(id)), zap.Error(err))
		}
		e.record(ctx, audit.ActionRideExpire, "", audit.ResourceRide, id, nil)
		if r, err := e.rides.Get(ctx, id); err == nil {
			audience := []events.Audience{events.Passenger(r.PassengerID)}
			for _, d := range declined {
				audience = append(audience, events.Driver(d))
			}
			e.publish(ctx, events.RideExpired, id, audience, map[string]any{"expires_at": r.ExpiresAt})
		}
	}

	holds, err := e.holds.SweepExpired(ctx)
	if err != nil {
		return res, err
	}
	res.Holds = len(holds)
	for _, h := range holds {
		e.record(ctx, audit.ActionHoldExpire, h.DriverID, audit.ResourceHold, h.ID, map[string]any{"ride_id": h.RideID})
	}

	n, err := e.blocks.SweepExpired(ctx)
	if err != nil {
		return res, err
	}
	res.Blocks = n

	observability.SweepExpiredTotal.WithLabelValues("ride").Add(float64(res.Rides))
	observability.SweepExpiredTotal.WithLabelValues("hold").Add(float64(res.Holds))
	observability.SweepExpiredTotal.WithLabelValues("block").Add(float64(res.Blocks))
	return res, nil
}

// RunSweeper sweeps every SweepInterval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.Sweep(ctx)
			if err != nil {
				e.log.Error("sweep failed", zap.Error(err))
				continue
			}
			if res.Rides+res.Holds+res.Blocks > 0 {
				e.log.Info("sweep done", zap.Int("rides", res.Rides), zap.Int("holds", res.Holds), zap.Int("blocks", res.Blocks))
			}
		}
	}
}
