// README: In-process ride store; a single mutex serializes every conditional write.
package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	rides  map[types.ID]*Ride
	events map[types.ID][]Event
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[types.ID]*Ride),
		events: make(map[types.ID][]Event),
	}
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return apperr.Validation("duplicate_id", "ride %s already exists", r.ID)
	}
	s.rides[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, apperr.ErrRideNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRequested(_ context.Context, q OpenQuery) ([]*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Ride, 0)
	for _, r := range s.rides {
		if r.IsOpen(q.Now) && q.matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Assign(_ context.Context, id types.ID, version int, driverID types.ID, price types.Money, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.DeletedAt != nil || r.Status != StatusRequested || r.StatusVersion != version {
		return false, nil
	}
	d, p, t := driverID, price, at
	r.Status = StatusAssigned
	r.StatusVersion++
	r.MatchedDriverID = &d
	r.FinalPrice = &p
	r.AssignedAt = &t
	return true, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, at time.Time, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.DeletedAt != nil || r.Status != from || r.StatusVersion != version {
		return false, nil
	}
	r.Status = to
	r.StatusVersion++
	stampStatus(r, to, at, reason)
	return true, nil
}

func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []types.ID
	for _, r := range s.rides {
		if r.DeletedAt == nil && r.IsLapsed(now) {
			r.Status = StatusExpired
			r.StatusVersion++
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id types.ID, by types.ID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.DeletedAt != nil {
		return false, nil
	}
	t, b := at, by
	r.DeletedAt = &t
	r.DeletedBy = &b
	return true, nil
}

func (s *MemoryStore) Restore(_ context.Context, id types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || r.DeletedAt == nil {
		return false, nil
	}
	r.DeletedAt = nil
	r.DeletedBy = nil
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev := *e
	ev.ID = s.seq
	s.events[e.RideID] = append(s.events[e.RideID], ev)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, id types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events[id]...), nil
}

func stampStatus(r *Ride, to Status, at time.Time, reason *string) {
	t := at
	switch to {
	case StatusDriverEnRoute:
		r.EnRouteAt = &t
	case StatusDriverArrived:
		r.ArrivedAt = &t
	case StatusInProgress:
		r.StartedAt = &t
	case StatusCompleted:
		r.CompletedAt = &t
	case StatusCancelled:
		r.CancelledAt = &t
		r.CancelReason = reason
	}
}
