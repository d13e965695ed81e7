// README: Driver bids on ride requests; one active bid per (ride, driver).
package bid

import (
	"context"
	"time"

	"ridebid/internal/types"
)

type Type string

const (
	TypeAccept       Type = "accept"
	TypeCounteroffer Type = "counteroffer"
	TypeReject       Type = "reject"
)

func (t Type) Valid() bool {
	return t == TypeAccept || t == TypeCounteroffer || t == TypeReject
}

type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusWithdrawn  Status = "withdrawn"
	StatusAccepted   Status = "accepted"
	StatusDeclined   Status = "declined"
)

type Bid struct {
	ID           types.ID     `json:"id"`
	RideID       types.ID     `json:"ride_id"`
	DriverID     types.ID     `json:"driver_id"`
	Type         Type         `json:"bid_type"`
	OfferedPrice *types.Money `json:"offered_price,omitempty"`
	Status       Status       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

type Store interface {
	// Place supersedes the pair's active bid, if any, and stores b as active.
	Place(ctx context.Context, b *Bid) error
	Active(ctx context.Context, rideID, driverID types.ID) (*Bid, error)
	ListActiveForRide(ctx context.Context, rideID types.ID) ([]Bid, error)
	// Withdraw marks the pair's active bid withdrawn; false when there was none.
	Withdraw(ctx context.Context, rideID, driverID types.ID, now time.Time) (bool, error)
	// Settle marks winner's active bid accepted and every other active bid declined.
	// It returns the driver ids whose bids were declined.
	Settle(ctx context.Context, rideID, winner types.ID, now time.Time) ([]types.ID, error)
}
