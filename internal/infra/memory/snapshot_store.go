package memory

import (
	"context"
	"sync"

	"quiz-session-service/internal/domain"
)

// SnapshotStore is an in-memory implementation of app.SnapshotStore for
// tests and redis/postgres-less demos. Semantics mirror the Postgres
// adapter: SaveSnapshot is a full replace, SaveParticipant a partial copy
// that the full snapshot supersedes.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.SessionSnapshot
	partials  map[string]map[string]domain.Participant
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string]domain.SessionSnapshot),
		partials:  make(map[string]map[string]domain.Participant),
	}
}

func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SessionID] = snap
	delete(s.partials, snap.SessionID)
	return nil
}

func (s *SnapshotStore) SaveParticipant(_ context.Context, sessionID string, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partials[sessionID] == nil {
		s.partials[sessionID] = make(map[string]domain.Participant)
	}
	s.partials[sessionID][p.ID] = p
	return nil
}

func (s *SnapshotStore) GetSnapshot(_ context.Context, sessionID string) (domain.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[sessionID]
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrSnapshotNotFound
	}
	return snap, nil
}

// SnapshotCount reports how many full snapshots exist; tests use it to
// assert the exactly-once finish property.
func (s *SnapshotStore) SnapshotCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// PartialCount reports stored safety copies for a session.
func (s *SnapshotStore) PartialCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partials[sessionID])
}
