// README: In-memory driver positions for single-process deployments and tests.
package location

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridebid/internal/geo"
	"ridebid/internal/types"
)

type entry struct {
	p  types.Point
	at time.Time
}

type MemoryStore struct {
	mu         sync.RWMutex
	positions  map[types.ID]entry
	staleAfter time.Duration
	now        func() time.Time
}

func NewMemoryStore(staleAfter time.Duration) *MemoryStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &MemoryStore{positions: make(map[types.ID]entry), staleAfter: staleAfter, now: time.Now}
}

func (s *MemoryStore) fresh(e entry) bool {
	return s.now().Sub(e.at) < s.staleAfter
}

func (s *MemoryStore) Update(_ context.Context, driverID types.ID, p types.Point, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[driverID] = entry{p: p, at: at}
	return nil
}

func (s *MemoryStore) Position(_ context.Context, driverID types.ID) (types.Point, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.positions[driverID]
	if !ok || !s.fresh(e) {
		return types.Point{}, false, nil
	}
	return e.p, true, nil
}

func (s *MemoryStore) Nearby(_ context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	s.mu.RLock()
	out := make([]Nearby, 0)
	for id, e := range s.positions {
		if !s.fresh(e) {
			continue
		}
		d := geo.HaversineKm(p, e.p)
		if d > radiusKm {
			continue
		}
		out = append(out, Nearby{DriverID: id, Position: e.p, DistanceKm: d})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm == out[j].DistanceKm {
			return out[i].DriverID < out[j].DriverID
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, driverID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, driverID)
	return nil
}
