// README: Engine events and their audiences; transports implement Publisher.
package events

import (
	"context"
	"errors"
	"time"

	"ridebid/internal/types"
)

type Name string

const (
	RideNew                 Name = "ride.new"
	RideMatched             Name = "ride.matched"
	RideAcceptedByPassenger Name = "ride.accepted_by_passenger"
	RideProgress            Name = "ride.progress"
	RideCancelled           Name = "ride.cancelled"
	RideExpired             Name = "ride.expired"
	BidReceived             Name = "bid.received"
	BidAccepted             Name = "bid.accepted"
)

type AudienceKind string

const (
	AudiencePassenger AudienceKind = "passenger"
	AudienceDriver    AudienceKind = "driver"
	AudienceRoom      AudienceKind = "room"
)

type Audience struct {
	Kind AudienceKind `json:"kind"`
	ID   string       `json:"id"`
}

func Passenger(id types.ID) Audience { return Audience{Kind: AudiencePassenger, ID: string(id)} }
func Driver(id types.ID) Audience    { return Audience{Kind: AudienceDriver, ID: string(id)} }
func Room(name string) Audience      { return Audience{Kind: AudienceRoom, ID: name} }

// DriverRoom is the room every driver able to serve vehicle joins.
func DriverRoom(vehicle string) string {
	return "drivers:" + vehicle
}

type Event struct {
	ID         types.ID       `json:"id"`
	Name       Name           `json:"name"`
	RideID     types.ID       `json:"ride_id"`
	Audience   []Audience     `json:"audience"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func New(name Name, rideID types.ID, audience []Audience, payload map[string]any) Event {
	return Event{
		ID:         types.NewID(),
		Name:       name,
		RideID:     rideID,
		Audience:   audience,
		Payload:    payload,
		OccurredAt: time.Now(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
