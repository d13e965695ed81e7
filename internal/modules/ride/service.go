// README: Ride service implements the request state machine on top of a Store.
package ride

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

const DefaultTTL = 10 * time.Minute

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	ttl   time.Duration
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now, ttl: DefaultTTL}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithTTL sets the default request lifetime used when CreateCommand.TTL is zero.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

type CreateCommand struct {
	PassengerID   types.ID
	Origin        types.Place
	Destination   types.Place
	OfferedPrice  types.Money
	VehicleType   VehicleType
	PaymentMethod PaymentMethod
	TTL           time.Duration
}

type AssignCommand struct {
	RideID   types.ID
	DriverID types.ID
	Price    types.Money
	// Version, when non-nil, pins the CAS to a version the caller has already validated.
	Version *int
}

type ProgressCommand struct {
	RideID   types.ID
	DriverID types.ID
	To       Status
}

type CancelCommand struct {
	RideID    types.ID
	ActorType string
	ActorID   types.ID
	Reason    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Ride, error) {
	if cmd.PassengerID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing passenger id")
	}
	if !cmd.Origin.Valid() || !cmd.Destination.Valid() {
		return nil, apperr.ErrBadRequest.WithReason("invalid coordinates")
	}
	if strings.TrimSpace(cmd.Origin.Address) == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing origin address")
	}
	if !cmd.OfferedPrice.IsPositive() {
		return nil, apperr.ErrBadPrice
	}
	if cmd.VehicleType == "" {
		cmd.VehicleType = VehicleAny
	}
	if !cmd.VehicleType.Valid() {
		return nil, apperr.ErrBadVehicle
	}
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = PaymentCash
	}
	if !cmd.PaymentMethod.Valid() {
		return nil, apperr.Validation("bad_payment_method", "unknown payment method %q", cmd.PaymentMethod)
	}
	ttl := cmd.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	r := &Ride{
		ID:            types.NewID(),
		PassengerID:   cmd.PassengerID,
		Origin:        cmd.Origin,
		Destination:   cmd.Destination,
		OfferedPrice:  cmd.OfferedPrice,
		VehicleType:   cmd.VehicleType,
		PaymentMethod: cmd.PaymentMethod,
		Status:        StatusRequested,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if r.OfferedPrice.Currency == "" {
		r.OfferedPrice.Currency = types.DefaultCurrency
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, r.ID, StatusNone, StatusRequested, ActorPassenger, &cmd.PassengerID)
	return r, nil
}

// Get returns a live ride. Soft-deleted rides are reported as not found.
func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsDeleted() {
		return nil, apperr.ErrRideNotFound
	}
	return r, nil
}

// ListOpen returns one page of biddable rides ordered by creation time.
// A zero q.Now means the service clock.
func (s *Service) ListOpen(ctx context.Context, q OpenQuery) ([]*Ride, error) {
	if q.Now.IsZero() {
		q.Now = s.now()
	}
	return s.store.ListRequested(ctx, q)
}

// CheckOpen returns the ride if it still accepts holds and bids at now.
func (s *Service) CheckOpen(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch {
	case r.IsOpen(now):
		return r, nil
	case r.Status == StatusExpired || r.IsLapsed(now):
		return nil, apperr.ErrRideExpired.WithState(r)
	default:
		return nil, apperr.ErrRideUnavailable.WithState(r)
	}
}

// Assign is the single requested -> assigned transition. Exactly one caller
// wins per ride; the rest see ErrRideUnavailable with the winning state.
func (s *Service) Assign(ctx context.Context, cmd AssignCommand) (*Ride, error) {
	if cmd.DriverID == "" {
		return nil, apperr.ErrBadRequest.WithReason("missing driver id")
	}
	if !cmd.Price.IsPositive() {
		return nil, apperr.ErrBadPrice
	}
	r, err := s.CheckOpen(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	version := r.StatusVersion
	if cmd.Version != nil {
		version = *cmd.Version
	}
	now := s.now()
	ok, err := s.store.Assign(ctx, r.ID, version, cmd.DriverID, cmd.Price, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.lostRace(ctx, r.ID)
	}
	s.appendEvent(ctx, r.ID, StatusRequested, StatusAssigned, ActorDriver, &cmd.DriverID)

	d, p, t := cmd.DriverID, cmd.Price, now
	r.Status = StatusAssigned
	r.StatusVersion = version + 1
	r.MatchedDriverID = &d
	r.FinalPrice = &p
	r.AssignedAt = &t
	return r, nil
}

// Advance applies a driver progress signal (en route, arrived, started, completed).
func (s *Service) Advance(ctx context.Context, cmd ProgressCommand) (*Ride, error) {
	switch cmd.To {
	case StatusDriverEnRoute, StatusDriverArrived, StatusInProgress, StatusCompleted:
	default:
		return nil, apperr.Validation("bad_status", "%q is not a driver progress status", cmd.To)
	}
	r, err := s.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.IsAssigned() && !r.MatchedTo(cmd.DriverID) {
		return nil, apperr.ErrNotMatched
	}
	if !CanTransition(r.Status, cmd.To) {
		return nil, apperr.ErrInvalidState.WithReason("cannot move ride from %s to %s", r.Status, cmd.To).WithState(r)
	}
	if !r.MatchedTo(cmd.DriverID) {
		return nil, apperr.ErrNotMatched
	}
	return s.transition(ctx, r, cmd.To, ActorDriver, &cmd.DriverID, nil)
}

// Cancel is allowed for the owning passenger, the matched driver, or the system.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Ride, error) {
	r, err := s.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	switch cmd.ActorType {
	case ActorPassenger:
		if r.PassengerID != cmd.ActorID {
			return nil, apperr.ErrNotOwner
		}
	case ActorDriver:
		if !r.MatchedTo(cmd.ActorID) {
			return nil, apperr.ErrNotMatched
		}
	case ActorSystem, ActorAdmin:
	default:
		return nil, apperr.Validation("bad_actor", "unknown actor type %q", cmd.ActorType)
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return nil, apperr.ErrInvalidState.WithReason("cannot cancel a %s ride", r.Status).WithState(r)
	}
	var reason *string
	if cmd.Reason != "" {
		reason = &cmd.Reason
	}
	var actor *types.ID
	if cmd.ActorID != "" {
		actor = &cmd.ActorID
	}
	return s.transition(ctx, r, StatusCancelled, cmd.ActorType, actor, reason)
}

// ExpireDue persists the expired status for every lapsed request.
func (s *Service) ExpireDue(ctx context.Context) ([]types.ID, error) {
	ids, err := s.store.ExpireDue(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.appendEvent(ctx, id, StatusRequested, StatusExpired, ActorSystem, nil)
	}
	return ids, nil
}

func (s *Service) SoftDelete(ctx context.Context, id, by types.ID) error {
	ok, err := s.store.SoftDelete(ctx, id, by, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrRideNotFound
	}
	return nil
}

func (s *Service) Restore(ctx context.Context, id types.ID) error {
	ok, err := s.store.Restore(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrRideNotFound
	}
	return nil
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	return s.store.ListEvents(ctx, id)
}

func (s *Service) transition(ctx context.Context, r *Ride, to Status, actorType string, actor *types.ID, reason *string) (*Ride, error) {
	now := s.now()
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion, now, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.staleState(ctx, r.ID)
	}
	s.appendEvent(ctx, r.ID, r.Status, to, actorType, actor)
	updated, err := s.store.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// lostRace reports the authoritative state after a failed assign CAS.
func (s *Service) lostRace(ctx context.Context, id types.ID) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status == StatusExpired || cur.IsLapsed(s.now()) {
		return apperr.ErrRideExpired.WithState(cur)
	}
	return apperr.ErrRideUnavailable.WithState(cur)
}

func (s *Service) staleState(ctx context.Context, id types.ID) error {
	cur, err := s.store.Get(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.ErrStaleVersion.WithState(cur)
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, actorType string, actor *types.ID) {
	err := s.store.AppendEvent(ctx, &Event{
		RideID:     id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actor,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("append ride event failed", zap.String("ride_id", string(id)), zap.String("to", string(to)), zap.Error(err))
	}
}
