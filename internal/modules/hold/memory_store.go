// README: In-process hold store guarded by one mutex.
package hold

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridebid/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	holds  map[types.ID]*Hold
	byRide map[types.ID]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holds:  make(map[types.ID]*Hold),
		byRide: make(map[types.ID]types.ID),
	}
}

func (s *MemoryStore) Acquire(_ context.Context, driverID, rideID types.ID, now, expiresAt time.Time) (*Hold, *Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current(rideID); cur != nil {
		if cur.ActiveAt(now) {
			if cur.DriverID != driverID {
				cp := *cur
				return nil, &cp, nil
			}
			cur.ExpiresAt = expiresAt
			cur.UpdatedAt = now
			cp := *cur
			return &cp, nil, nil
		}
		s.close(cur, StatusExpired, now)
	}

	h := &Hold{
		ID:        types.NewID(),
		DriverID:  driverID,
		RideID:    rideID,
		Status:    StatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.holds[h.ID] = h
	s.byRide[rideID] = h.ID
	cp := *h
	return &cp, nil, nil
}

func (s *MemoryStore) Release(_ context.Context, driverID, rideID types.ID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current(rideID)
	if cur == nil || cur.DriverID != driverID {
		return false, nil
	}
	if cur.ActiveAt(now) {
		s.close(cur, StatusReleased, now)
	} else {
		s.close(cur, StatusExpired, now)
	}
	return true, nil
}

func (s *MemoryStore) Resolve(_ context.Context, rideID, winner types.ID, now time.Time) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current(rideID)
	if cur == nil {
		return nil, nil
	}
	if cur.DriverID == winner && winner != "" {
		s.close(cur, StatusAccepted, now)
	} else {
		s.close(cur, StatusReleased, now)
	}
	cp := *cur
	return &cp, nil
}

func (s *MemoryStore) ActiveForRide(_ context.Context, rideID types.ID, now time.Time) (*Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current(rideID)
	if cur == nil || !cur.ActiveAt(now) {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

func (s *MemoryStore) ListActiveByDriver(_ context.Context, driverID types.ID, now time.Time) ([]Hold, error) {
	return s.list(func(h *Hold) bool { return h.DriverID == driverID && h.ActiveAt(now) }), nil
}

func (s *MemoryStore) ListActive(_ context.Context, now time.Time) ([]Hold, error) {
	return s.list(func(h *Hold) bool { return h.ActiveAt(now) }), nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) ([]Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Hold
	for _, h := range s.holds {
		if h.Status == StatusActive && !now.Before(h.ExpiresAt) {
			s.close(h, StatusExpired, now)
			out = append(out, *h)
		}
	}
	return out, nil
}

// current returns the ride's hold that is still in active status, lapsed or not.
func (s *MemoryStore) current(rideID types.ID) *Hold {
	id, ok := s.byRide[rideID]
	if !ok {
		return nil
	}
	h := s.holds[id]
	if h == nil || h.Status != StatusActive {
		return nil
	}
	return h
}

// close finalizes h and drops it from the store. Callers keep their pointer
// for the returned copy; nothing reads closed holds back.
func (s *MemoryStore) close(h *Hold, st Status, now time.Time) {
	h.Status = st
	h.UpdatedAt = now
	if s.byRide[h.RideID] == h.ID {
		delete(s.byRide, h.RideID)
	}
	delete(s.holds, h.ID)
}

func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.holds)
}

func (s *MemoryStore) list(keep func(*Hold) bool) []Hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Hold, 0)
	for _, h := range s.holds {
		if keep(h) {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}
