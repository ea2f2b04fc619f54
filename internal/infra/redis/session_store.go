package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-session-service/internal/domain"
)

// SessionStore keeps live session state in Redis: one hash per session
// for metadata, one hash per session for participant rows, and a set of
// open session IDs for the sweeper.
//
// Mutable status fields live as flat hash fields next to the immutable
// JSON blob, so the status check-and-set can run as a single Lua script.
// Participant rows are independent hash fields; concurrent writers for
// different participants never touch the same field.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

const (
	fieldData       = "data"
	fieldStatus     = "status"
	fieldStartedAt  = "started_at"
	fieldFinishedAt = "finished_at"

	openSetKey = "sessions:open"
)

// markFinishedScript is the atomic check-and-set guarding the finish
// procedure. It returns the previous status when the caller wins, "0"
// when the session is already finished, and "missing" when it does not
// exist.
var markFinishedScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'missing' end
if status == 'finished' then return '0' end
redis.call('HSET', KEYS[1], 'status', 'finished')
redis.call('HSET', KEYS[1], 'finished_at', ARGV[1])
redis.call('SREM', KEYS[2], ARGV[2])
return status
`)

var updateStatusScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'missing' end
if status ~= ARGV[1] then return '0' end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
return '1'
`)

// setActiveScript fixes the start time exactly once: it refuses unless
// the session is in countdown with no start time recorded.
var setActiveScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'missing' end
local started = redis.call('HGET', KEYS[1], 'started_at')
if status ~= 'countdown' then return '0' end
if started and started ~= '' then return '0' end
redis.call('HSET', KEYS[1], 'status', 'active')
redis.call('HSET', KEYS[1], 'started_at', ARGV[1])
return '1'
`)

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.sessionKey(session.ID),
		fieldData, raw,
		fieldStatus, string(session.Status),
		fieldStartedAt, "",
		fieldFinishedAt, "",
	)
	pipe.SAdd(ctx, openSetKey, session.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.sessionKey(session.ID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("read session: %w", err)
	}
	if len(fields) == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(fields[fieldData]), &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}

	// Mutable fields override whatever the blob was created with.
	session.Status = domain.Status(fields[fieldStatus])
	session.StartedAt = parseTimeField(fields[fieldStartedAt])
	session.FinishedAt = parseTimeField(fields[fieldFinishedAt])
	return session, nil
}

func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID string, from, to domain.Status) (bool, error) {
	res, err := updateStatusScript.Run(ctx, s.client,
		[]string{s.sessionKey(sessionID)},
		string(from), string(to),
	).Text()
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	switch res {
	case "missing":
		return false, domain.ErrSessionNotFound
	case "1":
		return true, nil
	default:
		return false, nil
	}
}

func (s *SessionStore) SetActive(ctx context.Context, sessionID string, startedAt time.Time) (bool, error) {
	res, err := setActiveScript.Run(ctx, s.client,
		[]string{s.sessionKey(sessionID)},
		startedAt.UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return false, fmt.Errorf("set active: %w", err)
	}
	switch res {
	case "missing":
		return false, domain.ErrSessionNotFound
	case "1":
		return true, nil
	default:
		return false, nil
	}
}

func (s *SessionStore) MarkFinished(ctx context.Context, sessionID string, at time.Time) (bool, domain.Status, error) {
	res, err := markFinishedScript.Run(ctx, s.client,
		[]string{s.sessionKey(sessionID), openSetKey},
		at.UTC().Format(time.RFC3339Nano), sessionID,
	).Text()
	if err != nil {
		return false, "", fmt.Errorf("mark finished: %w", err)
	}
	switch res {
	case "missing":
		return false, "", domain.ErrSessionNotFound
	case "0":
		return false, domain.StatusFinished, nil
	default:
		return true, domain.Status(res), nil
	}
}

func (s *SessionStore) RevertFinish(ctx context.Context, sessionID string, prev domain.Status) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.sessionKey(sessionID), fieldStatus, string(prev), fieldFinishedAt, "")
	pipe.SAdd(ctx, openSetKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revert finish: %w", err)
	}
	return nil
}

func (s *SessionStore) PutParticipant(ctx context.Context, p domain.Participant) error {
	exists, err := s.client.Exists(ctx, s.sessionKey(p.SessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.participantsKey(p.SessionID), p.ID, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.participantsKey(p.SessionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store participant: %w", err)
	}
	return nil
}

func (s *SessionStore) GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	raw, err := s.client.HGet(ctx, s.participantsKey(sessionID), participantID).Result()
	if err == redis.Nil {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("read participant: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Participant{}, fmt.Errorf("unmarshal participant: %w", err)
	}
	return p, nil
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.client.HGetAll(ctx, s.participantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read participants: %w", err)
	}

	out := make([]domain.Participant, 0, len(rows))
	for _, raw := range rows {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SessionStore) CountEnded(ctx context.Context, sessionID string) (int, int, error) {
	participants, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return 0, 0, err
	}
	ended := 0
	for _, p := range participants {
		if p.Finished() {
			ended++
		}
	}
	return ended, len(participants), nil
}

func (s *SessionStore) ListOpenSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, openSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read open sessions: %w", err)
	}
	return ids, nil
}

func (s *SessionStore) sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (s *SessionStore) participantsKey(sessionID string) string {
	return "session:" + sessionID + ":participants"
}

func parseTimeField(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &t
}
