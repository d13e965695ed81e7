// README: Dispatch engine composes rides, holds, blocks, bids and negotiation
// into the driver-facing operations. Audit and events run after the state
// change commits and never fail the caller.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/audit"
	"ridebid/internal/events"
	"ridebid/internal/geo"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/hold"
	"ridebid/internal/modules/location"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/observability"
	"ridebid/internal/types"
)

type Config struct {
	QueueLimit     int
	SweepInterval  time.Duration
	NearbyRadiusKm float64
	NearbyLimit    int
	// OpenPageSize is the batch the queue reads open rides in.
	OpenPageSize   int
}

func DefaultConfig() Config {
	return Config{
		QueueLimit:     50,
		SweepInterval:  30 * time.Second,
		NearbyRadiusKm: 5,
		NearbyLimit:    20,
		OpenPageSize:   ride.DefaultPageSize,
	}
}

// Deps are the collaborators the engine is built from. Geo, Positions,
// Audit, Events and Log are optional.
type Deps struct {
	Rides     *ride.Service
	Holds     *hold.Registry
	Blocks    *block.Registry
	Ledger    *negotiation.Ledger
	Bids      *bid.Book
	Geo       geo.Estimator
	Positions location.Store
	Audit     audit.Sink
	Events    events.Publisher
	Log       *zap.Logger
}

type Engine struct {
	rides     *ride.Service
	holds     *hold.Registry
	blocks    *block.Registry
	ledger    *negotiation.Ledger
	bids      *bid.Book
	geo       geo.Estimator
	positions location.Store
	audit     audit.Sink
	events    events.Publisher
	log       *zap.Logger
	cfg       Config
	now       func() time.Time
}

func New(d Deps, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = def.QueueLimit
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.NearbyRadiusKm <= 0 {
		cfg.NearbyRadiusKm = def.NearbyRadiusKm
	}
	if cfg.NearbyLimit <= 0 {
		cfg.NearbyLimit = def.NearbyLimit
	}
	if cfg.OpenPageSize <= 0 {
		cfg.OpenPageSize = def.OpenPageSize
	}
	e := &Engine{
		rides:     d.Rides,
		holds:     d.Holds,
		blocks:    d.Blocks,
		ledger:    d.Ledger,
		bids:      d.Bids,
		geo:       d.Geo,
		positions: d.Positions,
		audit:     d.Audit,
		events:    d.Events,
		log:       d.Log,
		cfg:       cfg,
		now:       time.Now,
	}
	if e.geo == nil {
		e.geo = geo.Haversine{}
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// WithClock overrides the time source used for queue filtering and audit stamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) record(ctx context.Context, action string, actor types.ID, resourceType string, resourceID types.ID, detail map[string]any) {
	err := e.audit.Record(ctx, audit.Entry{
		Action:       action,
		ActorID:      actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Detail:       detail,
		CreatedAt:    e.now(),
	})
	if err != nil {
		observability.SideChannelFailures.WithLabelValues("audit").Inc()
		e.log.Warn("audit record failed", zap.String("action", action), zap.String("resource_id", string(resourceID)), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, name events.Name, rideID types.ID, audience []events.Audience, payload map[string]any) {
	if len(audience) == 0 {
		return
	}
	if err := e.events.Publish(ctx, events.New(name, rideID, audience, payload)); err != nil {
		observability.SideChannelFailures.WithLabelValues("events").Inc()
		e.log.Warn("event publish failed", zap.String("event", string(name)), zap.String("ride_id", string(rideID)), zap.Error(err))
	}
}
