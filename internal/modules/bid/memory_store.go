// README: In-process bid store.
package bid

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridebid/internal/types"
)

type MemoryStore struct {
	mu   sync.Mutex
	bids []*Bid
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Place(_ context.Context, b *Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.active(b.RideID, b.DriverID); cur != nil {
		cur.Status = StatusSuperseded
		cur.UpdatedAt = b.CreatedAt
	}
	cp := *b
	cp.Status = StatusActive
	s.bids = append(s.bids, &cp)
	b.Status = StatusActive
	return nil
}

func (s *MemoryStore) Active(_ context.Context, rideID, driverID types.ID) (*Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.active(rideID, driverID)
	if cur == nil {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

func (s *MemoryStore) ListActiveForRide(_ context.Context, rideID types.ID) ([]Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bid, 0)
	for _, b := range s.bids {
		if b.RideID == rideID && b.Status == StatusActive {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Withdraw(_ context.Context, rideID, driverID types.ID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.active(rideID, driverID)
	if cur == nil {
		return false, nil
	}
	cur.Status = StatusWithdrawn
	cur.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) Settle(_ context.Context, rideID, winner types.ID, now time.Time) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var declined []types.ID
	for _, b := range s.bids {
		if b.RideID != rideID || b.Status != StatusActive {
			continue
		}
		if b.DriverID == winner {
			b.Status = StatusAccepted
		} else {
			b.Status = StatusDeclined
			declined = append(declined, b.DriverID)
		}
		b.UpdatedAt = now
	}
	return declined, nil
}

func (s *MemoryStore) active(rideID, driverID types.ID) *Bid {
	for _, b := range s.bids {
		if b.RideID == rideID && b.DriverID == driverID && b.Status == StatusActive {
			return b
		}
	}
	return nil
}
