package app

import (
	"context"
	"time"

	"quiz-session-service/internal/domain"
)

// SessionStore is the ephemeral store: low-latency session and participant
// rows backing live play (in-memory, Redis, etc). Participant rows are
// written independently with no cross-row invariants; the one
// synchronization point is MarkFinished.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)

	// UpdateStatus applies a guarded, non-terminal status change and
	// reports whether it took effect (false if the session was no longer
	// in the expected state).
	UpdateStatus(ctx context.Context, sessionID string, from, to domain.Status) (bool, error)

	// SetActive moves countdown -> active and fixes the start time, both
	// atomically and at most once.
	SetActive(ctx context.Context, sessionID string, startedAt time.Time) (bool, error)

	// MarkFinished is the atomic check-and-set guarding the finish
	// procedure. The first caller wins and receives the prior status;
	// everyone else gets won=false.
	MarkFinished(ctx context.Context, sessionID string, at time.Time) (won bool, prev domain.Status, err error)

	// RevertFinish undoes a MarkFinished whose durable sync failed, so the
	// session stays eligible for retry.
	RevertFinish(ctx context.Context, sessionID string, prev domain.Status) error

	PutParticipant(ctx context.Context, p domain.Participant) error
	GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// CountEnded reads finished-vs-total fresh from the store. End-mode
	// decisions must never use cached counts.
	CountEnded(ctx context.Context, sessionID string) (ended, total int, err error)

	ListOpenSessionIDs(ctx context.Context) ([]string, error)
}

// SnapshotStore is the durable store of record. The full snapshot is
// written exactly once per session by the end-game orchestrator; the
// per-participant write is an opportunistic safety copy that the full
// snapshot supersedes.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.SessionSnapshot) error
	SaveParticipant(ctx context.Context, sessionID string, p domain.Participant) error
	GetSnapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}
