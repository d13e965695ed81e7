// README: Ride persistence contract; conditional writes carry the expected status and version.
package ride

import (
	"context"
	"slices"
	"time"

	"ridebid/internal/types"
)

type Store interface {
	Create(ctx context.Context, r *Ride) error
	// Get returns soft-deleted rides too; callers decide how to treat them.
	Get(ctx context.Context, id types.ID) (*Ride, error)
	// ListRequested returns one page of rides that are requested, not deleted
	// and expire after q.Now, ordered by (created_at, id).
	ListRequested(ctx context.Context, q OpenQuery) ([]*Ride, error)
	// Assign moves requested -> assigned, setting driver and price together,
	// only if the row is still at version.
	Assign(ctx context.Context, id types.ID, version int, driverID types.ID, price types.Money, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, at time.Time, reason *string) (bool, error)
	// ExpireDue flips requested rides past their deadline to expired and returns their ids.
	ExpireDue(ctx context.Context, now time.Time) ([]types.ID, error)
	SoftDelete(ctx context.Context, id types.ID, by types.ID, at time.Time) (bool, error)
	Restore(ctx context.Context, id types.ID) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, id types.ID) ([]Event, error)
}

// DefaultPageSize bounds a ListRequested page when OpenQuery.Limit is unset.
const DefaultPageSize = 500

type OpenQuery struct {
	Now time.Time
	// Vehicles restricts vehicle_type; empty means every type.
	Vehicles []VehicleType
	// After resumes the listing past this position.
	After *Cursor
	Limit int
}

type Cursor struct {
	CreatedAt time.Time
	ID        types.ID
}

// CursorAfter is the position just past r.
func CursorAfter(r *Ride) *Cursor {
	return &Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

func (q OpenQuery) matches(r *Ride) bool {
	if len(q.Vehicles) > 0 && !slices.Contains(q.Vehicles, r.VehicleType) {
		return false
	}
	if q.After == nil {
		return true
	}
	if !r.CreatedAt.Equal(q.After.CreatedAt) {
		return r.CreatedAt.After(q.After.CreatedAt)
	}
	return r.ID > q.After.ID
}
