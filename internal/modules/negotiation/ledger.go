// README: Negotiation ledger; append-only rounds with a hard two-round ceiling.
package negotiation

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

type ProposeCommand struct {
	RideID    types.ID
	DriverID  types.ID
	Initiator Initiator
	Price     types.Money
	Message   string
}

// Propose appends round count+1. A third round fails with
// ErrCeilingExceeded carrying the existing rounds; the ledger is untouched.
func (l *Ledger) Propose(ctx context.Context, cmd ProposeCommand) (*Round, error) {
	if cmd.RideID == "" || cmd.DriverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing ride or driver id")
	}
	if !cmd.Initiator.Valid() {
		return nil, apperr.ErrBadInitiator
	}
	if !cmd.Price.IsPositive() {
		return nil, apperr.ErrBadPrice
	}
	msg := strings.TrimSpace(cmd.Message)
	if utf8.RuneCountInString(msg) > maxMessageLen {
		return nil, apperr.Validation("message_too_long", "message exceeds %d characters", maxMessageLen)
	}

	rounds, err := l.store.List(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if len(rounds) >= MaxRounds {
		return nil, apperr.ErrCeilingExceeded.WithState(rounds)
	}
	r := &Round{
		RideID:       cmd.RideID,
		DriverID:     cmd.DriverID,
		RoundNumber:  len(rounds) + 1,
		Initiator:    cmd.Initiator,
		OfferedPrice: cmd.Price,
		Message:      msg,
		CreatedAt:    l.now(),
	}
	ok, err := l.store.Append(ctx, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone appended concurrently; report against the fresh ledger.
		cur, err := l.store.List(ctx, cmd.RideID, cmd.DriverID)
		if err != nil {
			return nil, err
		}
		if len(cur) >= MaxRounds {
			return nil, apperr.ErrCeilingExceeded.WithState(cur)
		}
		return nil, apperr.Conflict("concurrent_round", cur, "another round was recorded concurrently")
	}
	return r, nil
}

func (l *Ledger) Rounds(ctx context.Context, rideID, driverID types.ID) ([]Round, error) {
	return l.store.List(ctx, rideID, driverID)
}

func (l *Ledger) ForRide(ctx context.Context, rideID types.ID) ([]Round, error) {
	return l.store.ListForRide(ctx, rideID)
}

// Latest returns the most recent round, or nil when the pair never negotiated.
func (l *Ledger) Latest(ctx context.Context, rideID, driverID types.ID) (*Round, error) {
	rounds, err := l.store.List(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, nil
	}
	last := rounds[len(rounds)-1]
	return &last, nil
}

// LatestBy returns the most recent round proposed by initiator, or nil.
func (l *Ledger) LatestBy(ctx context.Context, rideID, driverID types.ID, initiator Initiator) (*Round, error) {
	rounds, err := l.store.List(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	for i := len(rounds) - 1; i >= 0; i-- {
		if rounds[i].Initiator == initiator {
			r := rounds[i]
			return &r, nil
		}
	}
	return nil, nil
}
