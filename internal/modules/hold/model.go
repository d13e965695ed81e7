// README: Driver hold model; a hold hides a ride from other drivers until it is closed or lapses.
package hold

import (
	"context"
	"time"

	"ridebid/internal/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusAccepted Status = "accepted"
	StatusReleased Status = "released"
	StatusExpired  Status = "expired"
)

type Hold struct {
	ID        types.ID  `json:"id"`
	DriverID  types.ID  `json:"driver_id"`
	RideID    types.ID  `json:"ride_id"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveAt reports whether the hold still suppresses the ride at now.
// An active hold past its deadline is treated as expired without a write.
func (h *Hold) ActiveAt(now time.Time) bool {
	return h.Status == StatusActive && now.Before(h.ExpiresAt)
}

// Store keeps at most one active hold per ride. Every method is a single
// conditional operation; none of them wait.
type Store interface {
	// Acquire creates or refreshes driverID's hold on rideID. When another
	// driver holds the ride and the hold has not lapsed, nothing is written
	// and the conflicting hold is returned instead.
	Acquire(ctx context.Context, driverID, rideID types.ID, now, expiresAt time.Time) (held *Hold, conflict *Hold, err error)
	// Release closes driverID's active hold on rideID. Returns false when there was none.
	Release(ctx context.Context, driverID, rideID types.ID, now time.Time) (bool, error)
	// Resolve closes the ride's active hold: accepted when it belongs to
	// winner, released otherwise. Returns the closed hold, or nil.
	Resolve(ctx context.Context, rideID, winner types.ID, now time.Time) (*Hold, error)
	ActiveForRide(ctx context.Context, rideID types.ID, now time.Time) (*Hold, error)
	ListActiveByDriver(ctx context.Context, driverID types.ID, now time.Time) ([]Hold, error)
	// ListActive returns every hold that is active and unexpired at now.
	ListActive(ctx context.Context, now time.Time) ([]Hold, error)
	// SweepExpired marks active holds with expiresAt <= now as expired.
	SweepExpired(ctx context.Context, now time.Time) ([]Hold, error)
}
