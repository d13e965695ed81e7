// README: Hold registry; validates durations and turns store conflicts into engine errors.
package hold

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
}

func DefaultConfig() Config {
	return Config{DefaultDuration: 5 * time.Minute, MaxDuration: 30 * time.Minute}
}

type Registry struct {
	store Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func NewRegistry(store Store, cfg Config, log *zap.Logger) *Registry {
	def := DefaultConfig()
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if cfg.MaxDuration < cfg.DefaultDuration {
		cfg.MaxDuration = def.MaxDuration
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, cfg: cfg, log: log, now: time.Now}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Duration resolves a requested hold length in minutes. Zero means the default.
func (r *Registry) Duration(minutes int) (time.Duration, error) {
	if minutes < 0 {
		return 0, apperr.Validation("bad_duration", "hold minutes must not be negative")
	}
	if minutes == 0 {
		return r.cfg.DefaultDuration, nil
	}
	d := time.Duration(minutes) * time.Minute
	if d > r.cfg.MaxDuration {
		return 0, apperr.ErrHoldTooLong.WithReason("hold may last at most %d minutes", int(r.cfg.MaxDuration/time.Minute))
	}
	return d, nil
}

// Put creates or refreshes driverID's hold. A live hold by another driver is
// reported as ErrHoldConflict carrying that hold.
func (r *Registry) Put(ctx context.Context, driverID, rideID types.ID, minutes int) (*Hold, error) {
	if driverID == "" || rideID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing driver or ride id")
	}
	d, err := r.Duration(minutes)
	if err != nil {
		return nil, err
	}
	now := r.now()
	held, conflict, err := r.store.Acquire(ctx, driverID, rideID, now, now.Add(d))
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, apperr.ErrHoldConflict.WithState(conflict)
	}
	return held, nil
}

// Release is idempotent; releasing a missing hold is not an error.
func (r *Registry) Release(ctx context.Context, driverID, rideID types.ID) (bool, error) {
	return r.store.Release(ctx, driverID, rideID, r.now())
}

// Resolve closes whatever hold exists on a ride that left the requested state.
func (r *Registry) Resolve(ctx context.Context, rideID, winner types.ID) (*Hold, error) {
	return r.store.Resolve(ctx, rideID, winner, r.now())
}

func (r *Registry) ActiveForRide(ctx context.Context, rideID types.ID) (*Hold, error) {
	return r.store.ActiveForRide(ctx, rideID, r.now())
}

func (r *Registry) ListActiveForDriver(ctx context.Context, driverID types.ID) ([]Hold, error) {
	return r.store.ListActiveByDriver(ctx, driverID, r.now())
}

// HoldersAt maps ride id to the driver currently holding it.
func (r *Registry) HoldersAt(ctx context.Context, now time.Time) (map[types.ID]types.ID, error) {
	holds, err := r.store.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]types.ID, len(holds))
	for _, h := range holds {
		out[h.RideID] = h.DriverID
	}
	return out, nil
}

func (r *Registry) SweepExpired(ctx context.Context) ([]Hold, error) {
	expired, err := r.store.SweepExpired(ctx, r.now())
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		r.log.Info("holds expired", zap.Int("count", len(expired)))
	}
	return expired, nil
}
