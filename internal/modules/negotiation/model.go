// README: Negotiation rounds between a passenger and one driver, capped at two per pair.
package negotiation

import (
	"context"
	"time"

	"ridebid/internal/types"
)

// MaxRounds is the hard ceiling per (ride, driver) pair. After it the
// parties accept the latest price or walk away.
const MaxRounds = 2

const maxMessageLen = 280

type Initiator string

const (
	InitiatorPassenger Initiator = "passenger"
	InitiatorDriver    Initiator = "driver"
)

func (i Initiator) Valid() bool {
	return i == InitiatorPassenger || i == InitiatorDriver
}

type Round struct {
	ID           int64       `json:"id"`
	RideID       types.ID    `json:"ride_id"`
	DriverID     types.ID    `json:"driver_id"`
	RoundNumber  int         `json:"round_number"`
	Initiator    Initiator   `json:"initiator"`
	OfferedPrice types.Money `json:"offered_price"`
	Message      string      `json:"message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Store interface {
	// Append inserts r only when exactly r.RoundNumber-1 rounds exist for the
	// pair and r.RoundNumber <= MaxRounds. It returns false otherwise.
	Append(ctx context.Context, r *Round) (bool, error)
	List(ctx context.Context, rideID, driverID types.ID) ([]Round, error)
	ListForRide(ctx context.Context, rideID types.ID) ([]Round, error)
}
