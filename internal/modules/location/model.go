// README: Driver position tracking. Positions older than the staleness
// window are treated as offline and are not returned by Nearby.
package location

import (
	"context"
	"time"

	"ridebid/internal/types"
)

const DefaultStaleAfter = 2 * time.Minute

type Nearby struct {
	DriverID   types.ID    `json:"driver_id"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distance_km"`
}

type Store interface {
	Update(ctx context.Context, driverID types.ID, p types.Point, at time.Time) error
	// Position returns false when the driver is unknown or stale.
	Position(ctx context.Context, driverID types.ID) (types.Point, bool, error)
	// Nearby returns fresh drivers within radiusKm, nearest first.
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error)
	Remove(ctx context.Context, driverID types.ID) error
}
