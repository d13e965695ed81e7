// README: In-process block store.
package block

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridebid/internal/types"
)

type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[types.ID]Block
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[types.ID]Block)}
}

func (s *MemoryStore) Create(_ context.Context, b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.ID] = *b
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context, driverID types.ID, now time.Time) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Block, 0)
	for _, b := range s.blocks {
		if b.DriverID == driverID && b.ActiveAt(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, driverID, id types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok || b.DriverID != driverID {
		return false, nil
	}
	delete(s.blocks, id)
	return true, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, driverID, userID types.ID) (int, error) {
	return s.deleteWhere(func(b Block) bool {
		return b.DriverID == driverID && b.Type == TypeUser && b.BlockedUserID == userID
	}), nil
}

func (s *MemoryStore) DeleteAddress(_ context.Context, driverID types.ID, t Type, normalized string) (int, error) {
	return s.deleteWhere(func(b Block) bool {
		return b.DriverID == driverID && b.Type == t && b.NormalizedAddress == normalized
	}), nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	return s.deleteWhere(func(b Block) bool {
		return !b.IsPermanent && b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
	}), nil
}

func (s *MemoryStore) deleteWhere(match func(Block) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, b := range s.blocks {
		if match(b) {
			delete(s.blocks, id)
			n++
		}
	}
	return n
}
