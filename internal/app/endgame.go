package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"quiz-session-service/internal/clock"
	"quiz-session-service/internal/domain"
)

// Orchestrator owns the one-time transition into finished: it applies the
// session's end-mode policy and, when triggered, performs the full
// synchronization from the ephemeral store to the durable store. Every
// trigger (a submission, a host "end now", a timer sweep) funnels into
// the same idempotent Finish.
type Orchestrator struct {
	sessions  SessionStore
	snapshots SnapshotStore
	clock     *clock.Authority
	notifier  *Notifier
	log       zerolog.Logger
}

type OrchestratorConfig struct {
	Sessions  SessionStore
	Snapshots SnapshotStore
	Clock     *clock.Authority
	Notifier  *Notifier
	Logger    zerolog.Logger
}

func NewOrchestrator(c OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		sessions:  c.Sessions,
		snapshots: c.Snapshots,
		clock:     c.Clock,
		notifier:  c.Notifier,
		log:       c.Logger,
	}
}

// ShouldFinish evaluates the session's end-mode policy after a submission.
// Counts are read fresh from the store at decision time; a stale count
// here could miss the last finisher in a near-simultaneous race.
func (o *Orchestrator) ShouldFinish(ctx context.Context, s domain.Session) (bool, error) {
	switch s.EndMode {
	case domain.EndModeFirstFinish:
		ended, _, err := o.sessions.CountEnded(ctx, s.ID)
		if err != nil {
			return false, fmt.Errorf("count ended: %w", err)
		}
		return ended > 0, nil
	case domain.EndModeWaitTimer:
		ended, total, err := o.sessions.CountEnded(ctx, s.ID)
		if err != nil {
			return false, fmt.Errorf("count ended: %w", err)
		}
		return total > 0 && ended == total, nil
	default:
		// manual: submissions never end the session.
		return false, nil
	}
}

// Finish runs the finish procedure exactly once per session:
//
//  1. atomically check-and-set status to finished (losers return nil),
//  2. read the full session and participant list from the ephemeral store,
//  3. write the denormalized snapshot to the durable store, full replace,
//  4. on durable failure, roll the status back so the session never sits
//     finished without a durable record.
//
// Safe to invoke concurrently from any number of racing triggers.
func (o *Orchestrator) Finish(ctx context.Context, sessionID, reason string) error {
	now := o.clock.Now()

	won, prev, err := o.sessions.MarkFinished(ctx, sessionID, now)
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	if !won {
		// Another trigger got there first; its sync covers us.
		return nil
	}

	rollback := func(cause error) error {
		if revertErr := o.sessions.RevertFinish(ctx, sessionID, prev); revertErr != nil {
			o.log.Error().Err(revertErr).Str("session_id", sessionID).
				Msg("revert finish failed; session may need manual repair")
			return errors.Join(cause, revertErr)
		}
		return cause
	}

	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return rollback(fmt.Errorf("read session for snapshot: %w", err))
	}
	participants, err := o.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return rollback(fmt.Errorf("read participants for snapshot: %w", err))
	}

	snap := domain.SessionSnapshot{
		SessionID:        session.ID,
		QuizID:           session.QuizID,
		HostID:           session.HostID,
		EndMode:          session.EndMode,
		StartedAt:        session.StartedAt,
		FinishedAt:       now,
		TotalTimeMinutes: session.TotalTimeMinutes,
		QuestionCount:    len(session.Snapshot.Questions),
		Participants:     participants,
	}

	if err := o.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return rollback(fmt.Errorf("write durable snapshot: %w", err))
	}

	o.log.Info().
		Str("session_id", sessionID).
		Str("reason", reason).
		Str("previous_status", string(prev)).
		Int("participants", len(participants)).
		Msg("session finished")

	o.notifier.Publish(Update{
		SessionID:   sessionID,
		Status:      domain.StatusFinished,
		RemainingMS: 0,
		Scores:      scoreEntries(participants),
	})
	return nil
}

// CheckExpired finishes every open session whose clock has run out. It is
// the shared entry point for the in-server sweeper and the external
// scheduler (the sweep CLI command).
func (o *Orchestrator) CheckExpired(ctx context.Context) error {
	ids, err := o.sessions.ListOpenSessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list open sessions: %w", err)
	}

	var firstErr error
	for _, id := range ids {
		session, err := o.sessions.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrSessionNotFound) {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !o.clock.Expired(session) {
			continue
		}
		if err := o.Finish(ctx, id, "timer_expired"); err != nil {
			o.log.Error().Err(err).Str("session_id", id).Msg("expiry finish failed; will retry next sweep")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func scoreEntries(participants []domain.Participant) []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, ScoreEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Finished:      p.Finished(),
		})
	}
	return entries
}
