// README: Negotiation between a passenger and one driver: counters capped
// at two rounds, then accept the latest price or walk away.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/types"
)

type CounterCommand struct {
	negotiation.ProposeCommand
	// ActorID, when set, must be the ride's passenger for passenger
	// counters and DriverID for driver counters.
	ActorID types.ID
}

func (e *Engine) ProposeCounter(ctx context.Context, cmd CounterCommand) (*negotiation.Round, error) {
	round, err := e.proposeCounter(ctx, cmd)
	observeRound(cmd.Initiator, err)
	return round, err
}

func (e *Engine) proposeCounter(ctx context.Context, cmd CounterCommand) (*negotiation.Round, error) {
	if !cmd.Initiator.Valid() {
		return nil, apperr.ErrBadInitiator
	}
	if !cmd.Price.IsPositive() {
		return nil, apperr.ErrBadPrice
	}
	var (
		r   *ride.Ride
		err error
	)
	if cmd.Initiator == negotiation.InitiatorDriver {
		if cmd.ActorID != "" && cmd.ActorID != cmd.DriverID {
			return nil, apperr.ErrAuthorization.WithReason("drivers may only counter for themselves")
		}
		r, err = e.admit(ctx, cmd.RideID, cmd.DriverID)
	} else {
		r, err = e.rides.CheckOpen(ctx, cmd.RideID)
		if err == nil && cmd.ActorID != "" && cmd.ActorID != r.PassengerID {
			err = apperr.ErrNotOwner
		}
	}
	if err != nil {
		return nil, err
	}
	if cmd.Price, err = inRideCurrency(r, cmd.Price); err != nil {
		return nil, err
	}

	round, err := e.ledger.Propose(ctx, cmd.ProposeCommand)
	if err != nil {
		return nil, err
	}

	actor := r.PassengerID
	to := events.Driver(cmd.DriverID)
	if cmd.Initiator == negotiation.InitiatorDriver {
		actor = cmd.DriverID
		to = events.Passenger(r.PassengerID)
		p := cmd.Price
		if _, err := e.bids.Place(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: cmd.DriverID, Type: bid.TypeCounteroffer, Price: &p}); err != nil {
			e.log.Warn("record counteroffer bid failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
		}
	}
	e.record(ctx, audit.ActionNegotiationRound, actor, audit.ResourceRound, r.ID, roundDetail(round))
	e.publish(ctx, events.BidReceived, r.ID, []events.Audience{to}, map[string]any{"round": round})
	return round, nil
}

// AcceptNegotiatedPrice assigns the ride to driverID at the passenger's
// latest counter and releases every competing hold. A driver's own counter
// is only settled by the passenger through AcceptCounteroffer.
func (e *Engine) AcceptNegotiatedPrice(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	if rideID == "" || driverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing ride or driver id")
	}
	r, err := e.admit(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	last, err := e.ledger.Latest(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, apperr.ErrNoNegotiation
	}
	if last.Initiator != negotiation.InitiatorPassenger {
		return nil, apperr.ErrAwaitingPassenger.WithState(last)
	}
	assigned, err := e.assign(ctx, r, driverID, last.OfferedPrice, ride.ActorDriver, driverID, "negotiation")
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.ActionNegotiationClose, driverID, audit.ResourceRound, rideID, roundDetail(last))
	return assigned, nil
}

// AcceptCounteroffer is the passenger confirming driverID's latest counteroffer.
func (e *Engine) AcceptCounteroffer(ctx context.Context, rideID, passengerID, driverID types.ID) (*ride.Ride, error) {
	if rideID == "" || passengerID == "" || driverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing ride, passenger or driver id")
	}
	r, err := e.rides.CheckOpen(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.PassengerID != passengerID {
		return nil, apperr.ErrNotOwner
	}
	counter, err := e.ledger.LatestBy(ctx, rideID, driverID, negotiation.InitiatorDriver)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, apperr.ErrNoNegotiation.WithReason("driver has not made a counteroffer")
	}
	assigned, err := e.assign(ctx, r, driverID, counter.OfferedPrice, ride.ActorPassenger, passengerID, "counteroffer")
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.ActionNegotiationClose, passengerID, audit.ResourceRound, rideID, roundDetail(counter))
	e.publish(ctx, events.RideAcceptedByPassenger, rideID, []events.Audience{events.Driver(driverID)}, map[string]any{
		"final_price": counter.OfferedPrice,
		"passenger":   passengerID,
	})
	return assigned, nil
}

// ListNegotiation returns the rounds for one pair, or for every driver when driverID is empty.
func (e *Engine) ListNegotiation(ctx context.Context, rideID, driverID types.ID) ([]negotiation.Round, error) {
	if driverID == "" {
		return e.ledger.ForRide(ctx, rideID)
	}
	return e.ledger.Rounds(ctx, rideID, driverID)
}
