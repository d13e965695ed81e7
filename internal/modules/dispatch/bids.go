// README: Bid admission. accept assigns immediately, counteroffer opens or
// continues a negotiation, reject records a pass and frees the driver's hold.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/observability"
	"ridebid/internal/types"
)

type BidOutcome struct {
	Bid   *bid.Bid           `json:"bid,omitempty"`
	Ride  *ride.Ride         `json:"ride,omitempty"`
	Round *negotiation.Round `json:"round,omitempty"`
}

func (e *Engine) SubmitBid(ctx context.Context, cmd bid.PlaceCommand) (*BidOutcome, error) {
	out, err := e.submitBid(ctx, cmd)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrConflict):
		outcome = "conflict"
	default:
		outcome = "rejected"
	}
	observability.BidsTotal.WithLabelValues(string(cmd.Type), outcome).Inc()
	return out, err
}

func (e *Engine) submitBid(ctx context.Context, cmd bid.PlaceCommand) (*BidOutcome, error) {
	if err := bid.Validate(cmd); err != nil {
		return nil, err
	}
	r, err := e.admit(ctx, cmd.RideID, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if cmd.Price != nil && cmd.Type != bid.TypeReject {
		p, err := inRideCurrency(r, *cmd.Price)
		if err != nil {
			return nil, err
		}
		cmd.Price = &p
	}

	switch cmd.Type {
	case bid.TypeAccept:
		price, err := e.acceptPrice(ctx, r, cmd.DriverID)
		if err != nil {
			return nil, err
		}
		if cmd.Price != nil && !cmd.Price.Equal(price) {
			return nil, apperr.ErrPriceChanged.WithReason("current price is %s", price).WithState(price)
		}
		assigned, err := e.assignWithBid(ctx, r, cmd.DriverID, price)
		if err != nil {
			return nil, err
		}
		e.record(ctx, audit.ActionBidAccept, cmd.DriverID, audit.ResourceRide, r.ID, map[string]any{"price": price.String()})
		return &BidOutcome{Ride: assigned}, nil

	case bid.TypeCounteroffer:
		round, err := e.ledger.Propose(ctx, negotiation.ProposeCommand{
			RideID:    r.ID,
			DriverID:  cmd.DriverID,
			Initiator: negotiation.InitiatorDriver,
			Price:     *cmd.Price,
		})
		if err != nil {
			observeRound(negotiation.InitiatorDriver, err)
			return nil, err
		}
		observeRound(negotiation.InitiatorDriver, nil)
		b, err := e.bids.Place(ctx, cmd)
		if err != nil {
			return nil, err
		}
		e.record(ctx, audit.ActionNegotiationRound, cmd.DriverID, audit.ResourceRound, r.ID, roundDetail(round))
		e.publish(ctx, events.BidReceived, r.ID, []events.Audience{events.Passenger(r.PassengerID)}, map[string]any{
			"bid":   b,
			"round": round,
		})
		return &BidOutcome{Bid: b, Round: round}, nil

	default:
		b, err := e.bids.Place(ctx, cmd)
		if err != nil {
			return nil, err
		}
		if _, err := e.holds.Release(ctx, cmd.DriverID, r.ID); err != nil {
			e.log.Warn("release hold on reject failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
		}
		e.record(ctx, audit.ActionBidSubmit, cmd.DriverID, audit.ResourceBid, b.ID, map[string]any{
			"ride_id":  r.ID,
			"bid_type": b.Type,
		})
		return &BidOutcome{Bid: b}, nil
	}
}

// WithdrawBid is idempotent.
func (e *Engine) WithdrawBid(ctx context.Context, rideID, driverID types.ID) error {
	if rideID == "" || driverID == "" {
		return apperr.ErrBadRequest.WithReason("missing ride or driver id")
	}
	ok, err := e.bids.Withdraw(ctx, rideID, driverID)
	if err != nil {
		return err
	}
	if ok {
		e.record(ctx, audit.ActionBidWithdraw, driverID, audit.ResourceBid, rideID, nil)
	}
	return nil
}

// admit checks a driver may act on the ride now: it is open, nobody else
// holds it and the driver has not blocked it.
func (e *Engine) admit(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error) {
	r, err := e.rides.CheckOpen(ctx, rideID)
	if err != nil {
		return nil, err
	}
	h, err := e.holds.ActiveForRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if h != nil && h.DriverID != driverID {
		return nil, apperr.ErrHoldConflict.WithState(h)
	}
	verdict, err := e.blocks.IsBlocked(ctx, driverID, block.Subject{PassengerID: r.PassengerID, OriginAddress: r.Origin.Address})
	if err != nil {
		return nil, err
	}
	if verdict.Blocked {
		return nil, apperr.ErrBlocked.WithState(verdict)
	}
	return r, nil
}

// acceptPrice is the price a plain accept resolves at: the passenger's most
// recent counter to this driver, else the original offer.
func (e *Engine) acceptPrice(ctx context.Context, r *ride.Ride, driverID types.ID) (types.Money, error) {
	last, err := e.ledger.LatestBy(ctx, r.ID, driverID, negotiation.InitiatorPassenger)
	if err != nil {
		return types.Money{}, err
	}
	if last != nil {
		return last.OfferedPrice, nil
	}
	return r.OfferedPrice, nil
}

// inRideCurrency fills an omitted currency from the ride and rejects any
// other currency.
func inRideCurrency(r *ride.Ride, p types.Money) (types.Money, error) {
	want := r.OfferedPrice.Currency
	if want == "" {
		want = types.DefaultCurrency
	}
	switch {
	case p.Currency == "":
		p.Currency = want
	case !strings.EqualFold(p.Currency, want):
		return types.Money{}, apperr.ErrCurrencyMismatch.WithReason("ride is priced in %s, got %s", want, p.Currency)
	default:
		p.Currency = want
	}
	return p, nil
}

// assignWithBid records an accept bid for the winner once the CAS succeeded.
func (e *Engine) assignWithBid(ctx context.Context, r *ride.Ride, driverID types.ID, price types.Money) (*ride.Ride, error) {
	version := r.StatusVersion
	assigned, err := e.rides.Assign(ctx, ride.AssignCommand{RideID: r.ID, DriverID: driverID, Price: price, Version: &version})
	if err != nil {
		return nil, err
	}
	p := price
	if _, err := e.bids.Place(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: driverID, Type: bid.TypeAccept, Price: &p}); err != nil {
		e.log.Warn("record accept bid failed", zap.String("ride_id", string(r.ID)), zap.Error(err))
	}
	observability.MatchesTotal.Inc()
	e.afterMatch(ctx, assigned, ride.ActorDriver, driverID, "accept")
	return assigned, nil
}

func roundDetail(r *negotiation.Round) map[string]any {
	return map[string]any{
		"driver_id":    r.DriverID,
		"round_number": r.RoundNumber,
		"initiator":    r.Initiator,
		"price":        r.OfferedPrice.String(),
	}
}

func observeRound(initiator negotiation.Initiator, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrCeilingExceeded):
		outcome = "ceiling"
	default:
		outcome = "rejected"
	}
	observability.NegotiationRoundsTotal.WithLabelValues(string(initiator), outcome).Inc()
}
