package memory

import (
	"context"
	"sync"
	"time"

	"quiz-session-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore, used
// when Redis is not configured and throughout the unit tests. The mutex
// gives the same atomicity the Redis adapter gets from its Lua script.
type SessionStore struct {
	mu           sync.RWMutex
	sessions     map[string]domain.Session
	participants map[string]map[string]domain.Participant
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:     make(map[string]domain.Session),
		participants: make(map[string]map[string]domain.Participant),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	if s.participants[session.ID] == nil {
		s.participants[session.ID] = make(map[string]domain.Participant)
	}
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) UpdateStatus(_ context.Context, sessionID string, from, to domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != from {
		return false, nil
	}
	session.Status = to
	s.sessions[sessionID] = session
	return true, nil
}

func (s *SessionStore) SetActive(_ context.Context, sessionID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusCountdown || session.StartedAt != nil {
		return false, nil
	}
	session.Status = domain.StatusActive
	session.StartedAt = &startedAt
	s.sessions[sessionID] = session
	return true, nil
}

func (s *SessionStore) MarkFinished(_ context.Context, sessionID string, at time.Time) (bool, domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, "", domain.ErrSessionNotFound
	}
	if session.Status == domain.StatusFinished {
		return false, domain.StatusFinished, nil
	}
	prev := session.Status
	session.Status = domain.StatusFinished
	session.FinishedAt = &at
	s.sessions[sessionID] = session
	return true, prev, nil
}

func (s *SessionStore) RevertFinish(_ context.Context, sessionID string, prev domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Status = prev
	session.FinishedAt = nil
	s.sessions[sessionID] = session
	return nil
}

func (s *SessionStore) PutParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[p.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	if s.participants[p.SessionID] == nil {
		s.participants[p.SessionID] = make(map[string]domain.Participant)
	}
	s.participants[p.SessionID][p.ID] = p
	return nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[sessionID][participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.participants[sessionID]
	out := make([]domain.Participant, 0, len(rows))
	for _, p := range rows {
		out = append(out, p)
	}
	return out, nil
}

func (s *SessionStore) CountEnded(_ context.Context, sessionID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.participants[sessionID]
	ended := 0
	for _, p := range rows {
		if p.Finished() {
			ended++
		}
	}
	return ended, len(rows), nil
}

func (s *SessionStore) ListOpenSessionIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id, session := range s.sessions {
		if session.Status != domain.StatusFinished {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
