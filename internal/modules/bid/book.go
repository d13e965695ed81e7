// README: Bid book validates bid shape and records bids; it does not decide outcomes.
package bid

import (
	"context"
	"time"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

type Book struct {
	store Store
	now   func() time.Time
}

func NewBook(store Store) *Book {
	return &Book{store: store, now: time.Now}
}

func (b *Book) WithClock(now func() time.Time) *Book {
	b.now = now
	return b
}

type PlaceCommand struct {
	RideID   types.ID
	DriverID types.ID
	Type     Type
	Price    *types.Money
}

// Validate checks the command without touching state.
func Validate(cmd PlaceCommand) error {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return apperr.ErrBadRequest.WithReason("missing ride or driver id")
	}
	if !cmd.Type.Valid() {
		return apperr.ErrBadBidType.WithReason("unknown bid type %q", cmd.Type)
	}
	if cmd.Type == TypeCounteroffer && cmd.Price == nil {
		return apperr.ErrBadPrice.WithReason("counteroffer requires a price")
	}
	if cmd.Price != nil && !cmd.Price.IsPositive() {
		return apperr.ErrBadPrice
	}
	return nil
}

func (b *Book) Place(ctx context.Context, cmd PlaceCommand) (*Bid, error) {
	if err := Validate(cmd); err != nil {
		return nil, err
	}
	price := cmd.Price
	if cmd.Type == TypeReject {
		price = nil
	}
	now := b.now()
	bid := &Bid{
		ID:           types.NewID(),
		RideID:       cmd.RideID,
		DriverID:     cmd.DriverID,
		Type:         cmd.Type,
		OfferedPrice: price,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.store.Place(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// Withdraw is idempotent.
func (b *Book) Withdraw(ctx context.Context, rideID, driverID types.ID) (bool, error) {
	return b.store.Withdraw(ctx, rideID, driverID, b.now())
}

func (b *Book) Active(ctx context.Context, rideID, driverID types.ID) (*Bid, error) {
	return b.store.Active(ctx, rideID, driverID)
}

func (b *Book) ListActiveForRide(ctx context.Context, rideID types.ID) ([]Bid, error) {
	return b.store.ListActiveForRide(ctx, rideID)
}

// Settle closes every active bid on a ride once it is assigned. An empty
// winner declines all of them.
func (b *Book) Settle(ctx context.Context, rideID, winner types.ID) ([]types.ID, error) {
	return b.store.Settle(ctx, rideID, winner, b.now())
}
