// README: In-process negotiation store.
package negotiation

import (
	"context"
	"sort"
	"sync"

	"ridebid/internal/types"
)

type pairKey struct {
	ride   types.ID
	driver types.ID
}

type MemoryStore struct {
	mu     sync.Mutex
	rounds map[pairKey][]Round
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rounds: make(map[pairKey][]Round)}
}

func (s *MemoryStore) Append(_ context.Context, r *Round) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{r.RideID, r.DriverID}
	if r.RoundNumber > MaxRounds || len(s.rounds[k]) != r.RoundNumber-1 {
		return false, nil
	}
	s.seq++
	r.ID = s.seq
	s.rounds[k] = append(s.rounds[k], *r)
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, rideID, driverID types.ID) ([]Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Round{}, s.rounds[pairKey{rideID, driverID}]...), nil
}

func (s *MemoryStore) ListForRide(_ context.Context, rideID types.ID) ([]Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Round, 0)
	for k, rs := range s.rounds {
		if k.ride == rideID {
			out = append(out, rs...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
