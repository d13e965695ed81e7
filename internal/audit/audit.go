// README: Audit trail of engine decisions. Recording is best effort and never fails the caller.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/types"
)

const (
	ActionRideCreate       = "ride.create"
	ActionRideAssign       = "ride.assign"
	ActionRideProgress     = "ride.progress"
	ActionRideCancel       = "ride.cancel"
	ActionRideExpire       = "ride.expire"
	ActionRideDelete       = "ride.delete"
	ActionRideRestore      = "ride.restore"
	ActionHoldPut          = "hold.put"
	ActionHoldRelease      = "hold.release"
	ActionHoldExpire       = "hold.expire"
	ActionBlockUser        = "block.user"
	ActionBlockZone        = "block.zone"
	ActionBlockRoute       = "block.route"
	ActionBlockRemove      = "block.remove"
	ActionBidSubmit        = "bid.submit"
	ActionBidWithdraw      = "bid.withdraw"
	ActionBidAccept        = "bid.accept"
	ActionNegotiationRound = "negotiation.round"
	ActionNegotiationClose = "negotiation.accept"
)

const (
	ResourceRide  = "ride_request"
	ResourceHold  = "driver_hold"
	ResourceBlock = "driver_block"
	ResourceBid   = "bid"
	ResourceRound = "bid_negotiation"
)

type Entry struct {
	Action       string         `json:"action"`
	ActorID      types.ID       `json:"actor_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   types.ID       `json:"resource_id"`
	Detail       map[string]any `json:"detail,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// LogSink writes entries to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, e Entry) error {
	s.log.Info("audit",
		zap.String("action", e.Action),
		zap.String("actor_id", string(e.ActorID)),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", string(e.ResourceID)),
		zap.Any("detail", e.Detail),
	)
	return nil
}

// Multi records to every sink and returns the first error.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Entry) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
