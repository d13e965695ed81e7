package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/hold"
	"ridebid/internal/modules/location"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *recordingSink) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) named(name events.Name) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	eng       *Engine
	clock     *fakeClock
	audit     *recordingSink
	events    *recordingPublisher
	bids      *bid.Book
	positions *location.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
	h := &harness{
		clock:     clock,
		audit:     &recordingSink{},
		events:    &recordingPublisher{},
		bids:      bid.NewBook(bid.NewMemoryStore()).WithClock(clock.Now),
		positions: location.NewMemoryStore(time.Hour),
	}
	h.eng = New(Deps{
		Rides:     ride.NewService(ride.NewMemoryStore(), nil).WithClock(clock.Now),
		Holds:     hold.NewRegistry(hold.NewMemoryStore(), hold.DefaultConfig(), nil).WithClock(clock.Now),
		Blocks:    block.NewRegistry(block.NewMemoryStore(), block.DefaultConfig(), nil).WithClock(clock.Now),
		Ledger:    negotiation.NewLedger(negotiation.NewMemoryStore()).WithClock(clock.Now),
		Bids:      h.bids,
		Positions: h.positions,
		Audit:     h.audit,
		Events:    h.events,
	}, DefaultConfig()).WithClock(clock.Now)
	return h
}

func money(s string) types.Money {
	return types.MustMoney(s)
}

func pricePtr(s string) *types.Money {
	m := money(s)
	return &m
}

func (h *harness) createRide(t *testing.T, passenger types.ID, price, address string, origin types.Point) *ride.Ride {
	t.Helper()
	r, err := h.eng.CreateRide(context.Background(), ride.CreateCommand{
		PassengerID:  passenger,
		Origin:       types.Place{Point: origin, Address: address},
		Destination:  types.Place{Point: types.Point{Lat: 25.05, Lng: 121.52}, Address: "Taipei Main Station"},
		OfferedPrice: money(price),
	})
	require.NoError(t, err)
	return r
}

func (h *harness) queueIDs(t *testing.T, driver types.ID) []types.ID {
	t.Helper()
	views, err := h.eng.GetQueue(context.Background(), QueueQuery{DriverID: driver})
	require.NoError(t, err)
	ids := make([]types.ID, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

var errSideChannel = errors.New("side channel down")

var pickup = types.Point{Lat: 25.0330, Lng: 121.5654}
