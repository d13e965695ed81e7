// README: Block registry; user blocks are checked before zone and route blocks.
package block

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

type Config struct {
	UserDefault time.Duration
	ZoneDefault time.Duration
}

func DefaultConfig() Config {
	return Config{UserDefault: 30 * 24 * time.Hour, ZoneDefault: 24 * time.Hour}
}

type Registry struct {
	store Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func NewRegistry(store Store, cfg Config, log *zap.Logger) *Registry {
	def := DefaultConfig()
	if cfg.UserDefault <= 0 {
		cfg.UserDefault = def.UserDefault
	}
	if cfg.ZoneDefault <= 0 {
		cfg.ZoneDefault = def.ZoneDefault
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

type BlockUserCommand struct {
	DriverID  types.ID
	UserID    types.ID
	Reason    string
	Permanent bool
	// Days overrides the default length of a temporary block.
	Days int
}

type BlockAddressCommand struct {
	DriverID  types.ID
	Address   string
	Reason    string
	Permanent bool
	Hours     int
}

// BlockUser replaces any existing block on the same passenger.
func (r *Registry) BlockUser(ctx context.Context, cmd BlockUserCommand) (*Block, error) {
	if cmd.DriverID == "" || cmd.UserID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing driver or user id")
	}
	if cmd.DriverID == cmd.UserID {
		return nil, apperr.Validation("self_block", "a driver cannot block themselves")
	}
	if cmd.Days < 0 {
		return nil, apperr.Validation("bad_duration", "block days must not be negative")
	}
	d := r.cfg.UserDefault
	if cmd.Days > 0 {
		d = time.Duration(cmd.Days) * 24 * time.Hour
	}
	if _, err := r.store.DeleteUser(ctx, cmd.DriverID, cmd.UserID); err != nil {
		return nil, err
	}
	b := r.newBlock(cmd.DriverID, TypeUser, cmd.Reason, cmd.Permanent, d)
	b.BlockedUserID = cmd.UserID
	if err := r.store.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Registry) BlockZone(ctx context.Context, cmd BlockAddressCommand) (*Block, error) {
	return r.blockAddress(ctx, TypeZone, cmd)
}

func (r *Registry) BlockRoute(ctx context.Context, cmd BlockAddressCommand) (*Block, error) {
	return r.blockAddress(ctx, TypeRoute, cmd)
}

func (r *Registry) blockAddress(ctx context.Context, t Type, cmd BlockAddressCommand) (*Block, error) {
	if cmd.DriverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing driver id")
	}
	normalized := Normalize(cmd.Address)
	if normalized == "" {
		return nil, apperr.Validation("bad_address", "address is empty")
	}
	if cmd.Hours < 0 {
		return nil, apperr.Validation("bad_duration", "block hours must not be negative")
	}
	d := r.cfg.ZoneDefault
	if cmd.Hours > 0 {
		d = time.Duration(cmd.Hours) * time.Hour
	}
	if _, err := r.store.DeleteAddress(ctx, cmd.DriverID, t, normalized); err != nil {
		return nil, err
	}
	b := r.newBlock(cmd.DriverID, t, cmd.Reason, cmd.Permanent, d)
	b.BlockedAddress = strings.TrimSpace(cmd.Address)
	b.NormalizedAddress = normalized
	if err := r.store.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Registry) newBlock(driverID types.ID, t Type, reason string, permanent bool, d time.Duration) *Block {
	now := r.now()
	b := &Block{
		ID:          types.NewID(),
		DriverID:    driverID,
		Type:        t,
		Reason:      strings.TrimSpace(reason),
		IsPermanent: permanent,
		CreatedAt:   now,
	}
	if !permanent {
		exp := now.Add(d)
		b.ExpiresAt = &exp
	}
	return b
}

// Unblock removes every block on userID. Removing nothing is not an error.
func (r *Registry) Unblock(ctx context.Context, driverID, userID types.ID) (int, error) {
	return r.store.DeleteUser(ctx, driverID, userID)
}

// UnblockAddress removes zone and route blocks matching address.
func (r *Registry) UnblockAddress(ctx context.Context, driverID types.ID, address string) (int, error) {
	normalized := Normalize(address)
	total := 0
	for _, t := range []Type{TypeZone, TypeRoute} {
		n, err := r.store.DeleteAddress(ctx, driverID, t, normalized)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Registry) Remove(ctx context.Context, driverID, blockID types.ID) error {
	ok, err := r.store.Delete(ctx, driverID, blockID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrBlockNotFound
	}
	return nil
}

func (r *Registry) ListActive(ctx context.Context, driverID types.ID) ([]Block, error) {
	return r.store.ListActive(ctx, driverID, r.now())
}

func (r *Registry) IsBlocked(ctx context.Context, driverID types.ID, s Subject) (Verdict, error) {
	snap, err := r.SnapshotAt(ctx, driverID, r.now())
	if err != nil {
		return Verdict{}, err
	}
	return snap.Check(s), nil
}

// SnapshotAt loads a driver's active blocks once so a queue can be filtered
// without a query per ride.
func (r *Registry) SnapshotAt(ctx context.Context, driverID types.ID, now time.Time) (*Snapshot, error) {
	blocks, err := r.store.ListActive(ctx, driverID, now)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		users:     make(map[types.ID]*Block),
		addresses: make(map[string]*Block),
	}
	for i := range blocks {
		b := &blocks[i]
		if !b.ActiveAt(now) {
			continue
		}
		switch b.Type {
		case TypeUser:
			snap.users[b.BlockedUserID] = b
		case TypeZone, TypeRoute:
			snap.addresses[b.NormalizedAddress] = b
		}
	}
	return snap, nil
}

// SweepExpired purges lapsed temporary blocks. Reads already ignore them.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	n, err := r.store.PurgeExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("blocks purged", zap.Int("count", n))
	}
	return n, nil
}

type Snapshot struct {
	users     map[types.ID]*Block
	addresses map[string]*Block
}

func (s *Snapshot) Check(sub Subject) Verdict {
	if b, ok := s.users[sub.PassengerID]; ok {
		return Verdict{Blocked: true, Reason: "passenger blocked", Block: b}
	}
	if b, ok := s.addresses[Normalize(sub.OriginAddress)]; ok {
		return Verdict{Blocked: true, Reason: string(b.Type) + " blocked", Block: b}
	}
	return Verdict{}
}

func (s *Snapshot) Empty() bool {
	return len(s.users) == 0 && len(s.addresses) == 0
}
