package snapshot

import (
	"context"
	"sync"

	"github.com/ahump20/gameday/internal/domain"
)

// MemoryStore keeps snapshots in process memory. Used by tests and
// single-instance development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Snapshot
}

var _ domain.SnapshotStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]domain.Snapshot)}
}

func (s *MemoryStore) Get(_ context.Context, entityID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[entityID]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	copied := snap
	return &copied, nil
}

func (s *MemoryStore) Put(_ context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snap.EntityID] = *snap
	return nil
}
