// README: Engine tests: queue visibility, holds, negotiation ceiling, accept races and the sweeper.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebid/internal/apperr"
	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/hold"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/types"
)

func TestHoldReleaseCounterAndNegotiatedAccept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 5)
	require.NoError(t, err)
	assert.NotContains(t, h.queueIDs(t, "B"), r.ID)
	assert.Contains(t, h.queueIDs(t, "A"), r.ID)

	require.NoError(t, h.eng.ReleaseHold(ctx, "A", r.ID))
	assert.Contains(t, h.queueIDs(t, "B"), r.ID)

	out, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr("14.00")})
	require.NoError(t, err)
	require.NotNil(t, out.Round)
	assert.Equal(t, 1, out.Round.RoundNumber)

	round, err := h.eng.ProposeCounter(ctx, CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{RideID: r.ID, DriverID: "B", Initiator: negotiation.InitiatorPassenger, Price: money("13.00")},
		ActorID:        "P",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, round.RoundNumber)

	_, err = h.eng.ProposeCounter(ctx, CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{RideID: r.ID, DriverID: "B", Initiator: negotiation.InitiatorDriver, Price: money("13.50")},
	})
	require.True(t, errors.Is(err, apperr.ErrCeilingExceeded), "got %v", err)
	rounds, err := h.eng.ListNegotiation(ctx, r.ID, "B")
	require.NoError(t, err)
	assert.Len(t, rounds, 2)

	assigned, err := h.eng.AcceptNegotiatedPrice(ctx, r.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.MatchedDriverID)
	assert.Equal(t, types.ID("B"), *assigned.MatchedDriverID)
	require.NotNil(t, assigned.FinalPrice)
	assert.True(t, assigned.FinalPrice.Equal(money("13.00")))

	require.Len(t, h.events.named(events.BidReceived), 2)
	accepted := h.events.named(events.BidAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, []events.Audience{events.Driver("B")}, accepted[0].Audience)
	assert.Contains(t, h.audit.actions(), audit.ActionNegotiationClose)
	assert.Contains(t, h.audit.actions(), audit.ActionHoldPut)
	assert.Contains(t, h.audit.actions(), audit.ActionHoldRelease)
}

func TestThirdCounterLeavesLedgerUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "1 Elm Road", pickup)

	for _, p := range []string{"14.00", "15.00"} {
		_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr(p)})
		require.NoError(t, err)
	}
	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr("16.00")})
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "negotiation_ceiling", appErr.Code)
	assert.Len(t, appErr.State, 2)

	rounds, err := h.eng.ListNegotiation(ctx, r.ID, "B")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.True(t, rounds[1].OfferedPrice.Equal(money("15.00")))

	// Another driver has its own two rounds.
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "C", Type: bid.TypeCounteroffer, Price: pricePtr("13.00")})
	require.NoError(t, err)
}

func TestPermanentUserBlockHidesPassengerRides(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.eng.BlockUser(ctx, block.BlockUserCommand{DriverID: "C", UserID: "P", Permanent: true})
	require.NoError(t, err)
	assert.True(t, b.IsPermanent)
	assert.Nil(t, b.ExpiresAt)

	h.clock.Advance(90 * 24 * time.Hour)
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	assert.NotContains(t, h.queueIDs(t, "C"), r.ID)
	assert.Contains(t, h.queueIDs(t, "D"), r.ID)

	_, err = h.eng.PutOnHold(ctx, "D", r.ID, 0)
	require.NoError(t, err)
	assert.NotContains(t, h.queueIDs(t, "C"), r.ID)
	require.NoError(t, h.eng.ReleaseHold(ctx, "D", r.ID))
	assert.NotContains(t, h.queueIDs(t, "C"), r.ID)

	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "C", Type: bid.TypeAccept})
	assert.True(t, errors.Is(err, apperr.ErrBlocked))
	_, err = h.eng.PutOnHold(ctx, "C", r.ID, 0)
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	require.NoError(t, h.eng.Unblock(ctx, "C", "P"))
	assert.Contains(t, h.queueIDs(t, "C"), r.ID)
}

func TestZoneBlockMatchesNormalizedOrigin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "12 Main St.", pickup)

	_, err := h.eng.BlockZone(ctx, block.BlockAddressCommand{DriverID: "C", Address: "12 MAIN STREET"})
	require.NoError(t, err)
	assert.NotContains(t, h.queueIDs(t, "C"), r.ID)

	verdict, err := h.eng.IsBlocked(ctx, "C", r.ID)
	require.NoError(t, err)
	assert.True(t, verdict.Blocked)

	h.clock.Advance(25 * time.Hour)
	r2 := h.createRide(t, "P", "12.00", "12 Main St.", pickup)
	assert.Contains(t, h.queueIDs(t, "C"), r2.ID)
}

func TestExpiredHoldStopsSuppressingWithoutRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 5)
	require.NoError(t, err)
	held, err := h.eng.ListHeldRides(ctx, "A")
	require.NoError(t, err)
	require.Len(t, held, 1)

	h.clock.Advance(5 * time.Minute)
	held, err = h.eng.ListHeldRides(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.Contains(t, h.queueIDs(t, "B"), r.ID)

	_, err = h.eng.PutOnHold(ctx, "B", r.ID, 0)
	require.NoError(t, err)
}

func TestSecondHoldConflictCarriesHolder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 0)
	require.NoError(t, err)

	_, err = h.eng.PutOnHold(ctx, "B", r.ID, 0)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	holder, ok := appErr.State.(*hold.Hold)
	require.True(t, ok)
	assert.Equal(t, types.ID("A"), holder.DriverID)

	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeAccept})
	assert.True(t, errors.Is(err, apperr.ErrHoldConflict))

	held, err := h.eng.ListHeldRides(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestReleaseHoldIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 0)
	require.NoError(t, err)
	require.NoError(t, h.eng.ReleaseHold(ctx, "A", r.ID))
	require.NoError(t, h.eng.ReleaseHold(ctx, "A", r.ID))
	require.NoError(t, h.eng.ReleaseHold(ctx, "Z", r.ID))
}

func TestHoldRejectsLongDurations(t *testing.T) {
	h := newHarness(t)
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	_, err := h.eng.PutOnHold(context.Background(), "A", r.ID, 31)
	assert.True(t, errors.Is(err, apperr.ErrHoldTooLong))
}

func TestConcurrentAcceptsHaveSingleWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		ctx := context.Background()
		r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

		const drivers = 8
		start := make(chan struct{})
		var wg sync.WaitGroup
		winners := make(chan types.ID, drivers)
		errs := make(chan error, drivers)
		for i := 0; i < drivers; i++ {
			driver := types.ID(fmt.Sprintf("D%d", i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: driver, Type: bid.TypeAccept})
				if err != nil {
					errs <- err
					return
				}
				winners <- driver
			}()
		}
		close(start)
		wg.Wait()
		close(winners)
		close(errs)

		var won []types.ID
		for d := range winners {
			won = append(won, d)
		}
		require.Len(t, won, 1)
		for err := range errs {
			assert.True(t, errors.Is(err, apperr.ErrRideUnavailable), "got %v", err)
		}

		got, err := h.eng.GetRide(ctx, r.ID)
		require.NoError(t, err)
		require.NotNil(t, got.MatchedDriverID)
		assert.Equal(t, won[0], *got.MatchedDriverID)
		assert.True(t, got.FinalPrice.Equal(money("12.00")))
	}
}

func TestPlainAcceptResolvesAtPassengerCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr("14.00")})
	require.NoError(t, err)
	_, err = h.eng.ProposeCounter(ctx, CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{RideID: r.ID, DriverID: "B", Initiator: negotiation.InitiatorPassenger, Price: money("13.00")},
	})
	require.NoError(t, err)

	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeAccept, Price: pricePtr("14.00")})
	assert.True(t, errors.Is(err, apperr.ErrPriceChanged))

	out, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeAccept})
	require.NoError(t, err)
	assert.True(t, out.Ride.FinalPrice.Equal(money("13.00")))
}

func TestPlainAcceptWithoutNegotiationUsesOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	out, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeAccept, Price: pricePtr("12")})
	require.NoError(t, err)
	assert.True(t, out.Ride.FinalPrice.Equal(money("12.00")))

	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeAccept})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "ride_unavailable", appErr.Code)
	state, ok := appErr.State.(*ride.Ride)
	require.True(t, ok)
	assert.True(t, state.MatchedTo("A"))
}

func TestMatchDeclinesLosersAndNotifiesThem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr("15.00")})
	require.NoError(t, err)
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeAccept})
	require.NoError(t, err)

	active, err := h.bids.Active(ctx, r.ID, "B")
	require.NoError(t, err)
	assert.Nil(t, active)

	matched := h.events.named(events.RideMatched)
	require.Len(t, matched, 1)
	assert.ElementsMatch(t, []events.Audience{events.Passenger("P"), events.Driver("B")}, matched[0].Audience)
}

func TestAcceptCounterofferByPassenger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.AcceptCounteroffer(ctx, r.ID, "P", "B")
	assert.True(t, errors.Is(err, apperr.ErrNoNegotiation))

	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr("15.00")})
	require.NoError(t, err)

	_, err = h.eng.AcceptCounteroffer(ctx, r.ID, "Q", "B")
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))

	assigned, err := h.eng.AcceptCounteroffer(ctx, r.ID, "P", "B")
	require.NoError(t, err)
	assert.True(t, assigned.MatchedTo("B"))
	assert.True(t, assigned.FinalPrice.Equal(money("15.00")))

	confirmed := h.events.named(events.RideAcceptedByPassenger)
	require.Len(t, confirmed, 1)
	assert.Equal(t, []events.Audience{events.Driver("B")}, confirmed[0].Audience)
	require.Len(t, h.events.named(events.BidAccepted), 1)
}

func TestPassengerCounterRequiresOwner(t *testing.T) {
	h := newHarness(t)
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	_, err := h.eng.ProposeCounter(context.Background(), CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{RideID: r.ID, DriverID: "B", Initiator: negotiation.InitiatorPassenger, Price: money("11.00")},
		ActorID:        "Q",
	})
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))
}

func TestAcceptNegotiatedPriceWithoutRounds(t *testing.T) {
	h := newHarness(t)
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	_, err := h.eng.AcceptNegotiatedPrice(context.Background(), r.ID, "B")
	assert.True(t, errors.Is(err, apperr.ErrNoNegotiation))
}

func TestRejectBidReleasesOwnHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 0)
	require.NoError(t, err)
	out, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeReject, Price: pricePtr("9.00")})
	require.NoError(t, err)
	assert.Nil(t, out.Bid.OfferedPrice)

	held, err := h.eng.ListHeldRides(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, held)

	require.NoError(t, h.eng.WithdrawBid(ctx, r.ID, "A"))
	require.NoError(t, h.eng.WithdrawBid(ctx, r.ID, "A"))
}

func TestValidationHappensBeforeState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: "haggle"})
	assert.True(t, errors.Is(err, apperr.ErrBadBidType))

	rounds, err := h.eng.ListNegotiation(ctx, r.ID, "")
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestExpiredRideRejectsBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	h.clock.Advance(ride.DefaultTTL)
	assert.NotContains(t, h.queueIDs(t, "A"), r.ID)
	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeAccept})
	assert.True(t, errors.Is(err, apperr.ErrExpired))
	_, err = h.eng.PutOnHold(ctx, "A", r.ID, 0)
	assert.True(t, errors.Is(err, apperr.ErrRideExpired))
}

func TestProgressOnlyByMatchedDriver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeAccept})
	require.NoError(t, err)

	_, err = h.eng.MarkEnRoute(ctx, r.ID, "B")
	assert.True(t, errors.Is(err, apperr.ErrNotMatched))
	_, err = h.eng.StartTrip(ctx, r.ID, "A")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	steps := []func(context.Context, types.ID, types.ID) (*ride.Ride, error){
		h.eng.MarkEnRoute, h.eng.MarkArrived, h.eng.StartTrip, h.eng.CompleteTrip,
	}
	var got *ride.Ride
	for _, step := range steps {
		got, err = step(ctx, r.ID, "A")
		require.NoError(t, err)
	}
	assert.Equal(t, ride.StatusCompleted, got.Status)
	assert.True(t, got.MatchedTo("A"))
	assert.Len(t, h.events.named(events.RideProgress), 4)

	_, err = h.eng.CancelRide(ctx, ride.CancelCommand{RideID: r.ID, ActorType: ride.ActorPassenger, ActorID: "P"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestCancelReleasesHoldsAndDeclinesBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 0)
	require.NoError(t, err)
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeCounteroffer, Price: pricePtr("14.00")})
	require.NoError(t, err)

	_, err = h.eng.CancelRide(ctx, ride.CancelCommand{RideID: r.ID, ActorType: ride.ActorPassenger, ActorID: "Q"})
	assert.True(t, errors.Is(err, apperr.ErrNotOwner))

	cancelled, err := h.eng.CancelRide(ctx, ride.CancelCommand{RideID: r.ID, ActorType: ride.ActorPassenger, ActorID: "P", Reason: "changed plans"})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, cancelled.Status)

	held, err := h.eng.ListHeldRides(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, held)
	active, err := h.bids.Active(ctx, r.ID, "A")
	require.NoError(t, err)
	assert.Nil(t, active)

	evs := h.events.named(events.RideCancelled)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Audience, events.Driver("A"))
}

func TestSweepPersistsExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	other := h.createRide(t, "P2", "9.00", "5 Oak Avenue", pickup)
	_, err := h.eng.PutOnHold(ctx, "A", other.ID, 5)
	require.NoError(t, err)
	_, err = h.eng.BlockZone(ctx, block.BlockAddressCommand{DriverID: "A", Address: "1 Dock Road", Hours: 1})
	require.NoError(t, err)

	h.clock.Advance(6 * time.Minute)
	res, err := h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Holds: 1}, res)

	h.clock.Advance(time.Hour)
	res, err = h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Rides: 2, Blocks: 1}, res)

	got, err := h.eng.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusExpired, got.Status)
	assert.Contains(t, h.audit.actions(), audit.ActionRideExpire)
	assert.Contains(t, h.audit.actions(), audit.ActionHoldExpire)

	expired := h.events.named(events.RideExpired)
	require.Len(t, expired, 2)
	assert.Empty(t, h.events.named(events.RideCancelled))
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.eng.cfg.SweepInterval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.eng.RunSweeper(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSideChannelFailuresDoNotFailCaller(t *testing.T) {
	h := newHarness(t)
	h.audit.err = errSideChannel
	h.events.err = errSideChannel
	ctx := context.Background()

	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 0)
	require.NoError(t, err)
	out, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeAccept})
	require.NoError(t, err)
	assert.True(t, out.Ride.MatchedTo("A"))
}

func TestQueueOrdersNearestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	far := h.createRide(t, "P1", "12.00", "far", types.Point{Lat: 25.10, Lng: 121.5654})
	h.clock.Advance(time.Second)
	near := h.createRide(t, "P2", "12.00", "near", types.Point{Lat: 25.034, Lng: 121.5654})
	h.clock.Advance(time.Second)
	mid := h.createRide(t, "P3", "12.00", "mid", types.Point{Lat: 25.05, Lng: 121.5654})

	// Without a position the queue falls back to creation order.
	assert.Equal(t, []types.ID{far.ID, near.ID, mid.ID}, h.queueIDs(t, "A"))

	require.NoError(t, h.eng.UpdateDriverPosition(ctx, "A", pickup))
	views, err := h.eng.GetQueue(ctx, QueueQuery{DriverID: "A"})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []types.ID{near.ID, mid.ID, far.ID}, []types.ID{views[0].ID, views[1].ID, views[2].ID})
	require.NotNil(t, views[0].DistanceKm)
	require.NotNil(t, views[0].ETASeconds)
	assert.Less(t, *views[0].DistanceKm, *views[1].DistanceKm)

	other := types.Point{Lat: 25.10, Lng: 121.5654}
	views, err = h.eng.GetQueue(ctx, QueueQuery{DriverID: "A", Location: &other, Limit: 1})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, far.ID, views[0].ID)
}

func TestQueueFiltersVehicleType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	moto, err := h.eng.CreateRide(ctx, ride.CreateCommand{
		PassengerID:  "P",
		Origin:       types.Place{Point: pickup, Address: "1 A Street"},
		Destination:  types.Place{Point: pickup, Address: "2 B Street"},
		OfferedPrice: money("5.00"),
		VehicleType:  ride.VehicleMoto,
	})
	require.NoError(t, err)
	anyRide := h.createRide(t, "P", "7.00", "3 C Street", pickup)

	views, err := h.eng.GetQueue(ctx, QueueQuery{DriverID: "A", VehicleType: ride.VehicleTaxi})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, anyRide.ID, views[0].ID)

	views, err = h.eng.GetQueue(ctx, QueueQuery{DriverID: "A", VehicleType: ride.VehicleMoto})
	require.NoError(t, err)
	assert.Len(t, views, 2)
	_ = moto

	_, err = h.eng.GetQueue(ctx, QueueQuery{DriverID: "A", VehicleType: "bus"})
	assert.True(t, errors.Is(err, apperr.ErrBadVehicle))
}

func TestNewRideTargetsNearbyDriversOrRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	first := h.events.named(events.RideNew)
	require.Len(t, first, 1)
	assert.Contains(t, first[0].Audience, events.Room("drivers:taxi"))

	require.NoError(t, h.eng.UpdateDriverPosition(ctx, "A", pickup))
	require.NoError(t, h.eng.UpdateDriverPosition(ctx, "C", pickup))
	_, err := h.eng.BlockUser(ctx, block.BlockUserCommand{DriverID: "C", UserID: "P"})
	require.NoError(t, err)

	h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	second := h.events.named(events.RideNew)
	require.Len(t, second, 2)
	assert.Equal(t, []events.Audience{events.Driver("A")}, second[1].Audience)
}

func TestDriverCannotSettleOwnCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)

	_, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: pricePtr("99.00")})
	require.NoError(t, err)

	_, err = h.eng.AcceptNegotiatedPrice(ctx, r.ID, "B")
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "got %v", err)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	assert.Equal(t, "awaiting_passenger", appErr.Code)

	got, err := h.eng.GetRide(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusRequested, got.Status)
	assert.Nil(t, got.FinalPrice)
	assert.Empty(t, h.events.named(events.RideMatched))

	// The passenger can still settle it at the driver's price.
	assigned, err := h.eng.AcceptCounteroffer(ctx, r.ID, "P", "B")
	require.NoError(t, err)
	assert.True(t, assigned.FinalPrice.Equal(money("99.00")))
}

func TestCounterCurrencyFollowsRide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	eur, err := types.NewMoney("12.00", "EUR")
	require.NoError(t, err)
	r, err := h.eng.CreateRide(ctx, ride.CreateCommand{
		PassengerID:  "P",
		Origin:       types.Place{Point: pickup, Address: "Rue de Rivoli 1"},
		Destination:  types.Place{Point: pickup, Address: "Gare du Nord"},
		OfferedPrice: eur,
	})
	require.NoError(t, err)

	usd, err := types.NewMoney("14.00", "USD")
	require.NoError(t, err)
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: &usd})
	assert.True(t, errors.Is(err, apperr.ErrCurrencyMismatch), "got %v", err)
	_, err = h.eng.ProposeCounter(ctx, CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{RideID: r.ID, DriverID: "B", Initiator: negotiation.InitiatorPassenger, Price: usd},
		ActorID:        "P",
	})
	assert.True(t, errors.Is(err, apperr.ErrCurrencyMismatch), "got %v", err)
	_, err = h.eng.AcceptCounteroffer(ctx, r.ID, "P", "B")
	assert.True(t, errors.Is(err, apperr.ErrNoNegotiation))

	// An omitted currency takes the ride's.
	bare := types.Money{Amount: money("14.00").Amount}
	out, err := h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "B", Type: bid.TypeCounteroffer, Price: &bare})
	require.NoError(t, err)
	assert.Equal(t, "EUR", out.Round.OfferedPrice.Currency)

	assigned, err := h.eng.AcceptCounteroffer(ctx, r.ID, "P", "B")
	require.NoError(t, err)
	require.NotNil(t, assigned.FinalPrice)
	want, err := types.NewMoney("14.00", "EUR")
	require.NoError(t, err)
	assert.True(t, assigned.FinalPrice.Equal(want), "final price %s", assigned.FinalPrice)
}

func TestDeletedRideIsInvisibleToDrivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.createRide(t, "P", "12.00", "100 Main Street", pickup)
	require.Contains(t, h.queueIDs(t, "A"), r.ID)

	require.NoError(t, h.eng.DeleteRide(ctx, r.ID, "admin"))

	assert.NotContains(t, h.queueIDs(t, "A"), r.ID)
	_, err := h.eng.PutOnHold(ctx, "A", r.ID, 0)
	assert.True(t, errors.Is(err, apperr.ErrRideNotFound), "got %v", err)
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeAccept})
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	_, err = h.eng.SubmitBid(ctx, bid.PlaceCommand{RideID: r.ID, DriverID: "A", Type: bid.TypeCounteroffer, Price: pricePtr("13.00")})
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	rounds, err := h.eng.ListNegotiation(ctx, r.ID, "")
	require.NoError(t, err)
	assert.Empty(t, rounds)
}

func TestQueueReadsEveryPage(t *testing.T) {
	h := newHarness(t)
	h.eng.cfg.OpenPageSize = 2
	ctx := context.Background()

	var rides []types.ID
	for i := 0; i < 5; i++ {
		r := h.createRide(t, types.ID(fmt.Sprintf("P%d", i)), "12.00", fmt.Sprintf("%d Pine Street", i), pickup)
		rides = append(rides, r.ID)
		h.clock.Advance(time.Second)
	}
	moto, err := h.eng.CreateRide(ctx, ride.CreateCommand{
		PassengerID:  "PM",
		Origin:       types.Place{Point: pickup, Address: "9 Pine Street"},
		Destination:  types.Place{Point: pickup, Address: "10 Pine Street"},
		OfferedPrice: money("5.00"),
		VehicleType:  ride.VehicleMoto,
	})
	require.NoError(t, err)

	assert.Equal(t, append(rides, moto.ID), h.queueIDs(t, "A"))

	views, err := h.eng.GetQueue(ctx, QueueQuery{DriverID: "A", VehicleType: ride.VehicleTaxi})
	require.NoError(t, err)
	assert.Len(t, views, 5)
	for _, v := range views {
		assert.NotEqual(t, moto.ID, v.ID)
	}
}
