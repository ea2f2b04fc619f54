package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/clock"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/scoring"
)

// SessionService contains the session lifecycle and submission use cases.
// It writes participant rows and drives status transitions through the
// state machine; the terminal transition itself belongs to the
// orchestrator.
type SessionService struct {
	sessions  SessionStore
	snapshots SnapshotStore
	quizzes   QuizRepository
	clock     *clock.Authority
	strat     scoring.Strategy
	orch      *Orchestrator
	notifier  *Notifier
	log       zerolog.Logger

	defaultCountdown time.Duration
}

type SessionServiceConfig struct {
	Sessions  SessionStore
	Snapshots SnapshotStore
	Quizzes   QuizRepository
	Clock     *clock.Authority
	Strategy  scoring.Strategy
	Notifier  *Notifier
	Logger    zerolog.Logger

	// DefaultCountdown is the pre-roll used when a session doesn't set its
	// own. Zero means sessions activate immediately on start.
	DefaultCountdown time.Duration
}

func NewSessionService(c SessionServiceConfig) *SessionService {
	strat := c.Strategy
	if strat == nil {
		strat = scoring.Flat{}
	}
	notifier := c.Notifier
	if notifier == nil {
		notifier = NewNotifier()
	}
	s := &SessionService{
		sessions:         c.Sessions,
		snapshots:        c.Snapshots,
		quizzes:          c.Quizzes,
		clock:            c.Clock,
		strat:            strat,
		notifier:         notifier,
		log:              c.Logger,
		defaultCountdown: c.DefaultCountdown,
	}
	s.orch = NewOrchestrator(OrchestratorConfig{
		Sessions:  c.Sessions,
		Snapshots: c.Snapshots,
		Clock:     c.Clock,
		Notifier:  notifier,
		Logger:    c.Logger,
	})
	return s
}

// Orchestrator exposes the end-game entry point for the sweeper and CLI.
func (s *SessionService) Orchestrator() *Orchestrator { return s.orch }

// Notifier exposes the live-update feed for the transport layer.
func (s *SessionService) Notifier() *Notifier { return s.notifier }

type CreateSessionRequest struct {
	QuizID           string
	HostID           string
	EndMode          domain.EndMode
	TotalTimeMinutes int
	QuestionLimit    int
	CountdownSeconds int
	Roster           []string
}

// CreateSession freezes a quiz snapshot and opens a session for joining.
func (s *SessionService) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Session, error) {
	if req.EndMode == "" {
		req.EndMode = domain.EndModeManual
	}
	if !domain.ValidEndMode(req.EndMode) {
		return domain.Session{}, fmt.Errorf("unknown end mode %q", req.EndMode)
	}

	quiz, err := s.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.Session{}, err
	}

	questions := quiz.Questions
	if req.QuestionLimit > 0 && req.QuestionLimit < len(questions) {
		questions = questions[:req.QuestionLimit]
	}

	minutes := req.TotalTimeMinutes
	if minutes <= 0 {
		minutes = 10
	}
	countdown := req.CountdownSeconds
	if countdown < 0 {
		countdown = 0
	}

	session := domain.Session{
		ID:               uuid.NewString(),
		QuizID:           req.QuizID,
		HostID:           req.HostID,
		Status:           domain.StatusWaiting,
		EndMode:          req.EndMode,
		TotalTimeMinutes: minutes,
		QuestionLimit:    req.QuestionLimit,
		CountdownSeconds: countdown,
		Roster:           req.Roster,
		Snapshot: domain.QuizSnapshot{
			QuizID:    quiz.ID,
			Questions: questions,
		},
		CreatedAt: s.clock.Now(),
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID).
		Str("quiz_id", session.QuizID).
		Str("end_mode", string(session.EndMode)).
		Int("questions", len(questions)).
		Msg("session created")
	return session, nil
}

// Join registers a user as a participant while the session is still open.
// Re-joining refreshes the display name and returns the existing row.
func (s *SessionService) Join(ctx context.Context, sessionID, userID, displayName string) (domain.Participant, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	if session.Status != domain.StatusWaiting && session.Status != domain.StatusCountdown {
		return domain.Participant{}, domain.ErrJoinClosed
	}
	if !session.InRoster(userID) {
		return domain.Participant{}, domain.ErrNotInRoster
	}

	participants, err := s.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("list participants: %w", err)
	}
	for _, p := range participants {
		if p.UserID == userID {
			p.DisplayName = displayName
			if err := s.sessions.PutParticipant(ctx, p); err != nil {
				return domain.Participant{}, fmt.Errorf("refresh participant: %w", err)
			}
			return p, nil
		}
	}

	p := domain.Participant{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Answers:     make([]string, len(session.Snapshot.Questions)),
	}
	if err := s.sessions.PutParticipant(ctx, p); err != nil {
		return domain.Participant{}, fmt.Errorf("store participant: %w", err)
	}

	s.publishLive(ctx, session)
	return p, nil
}

// StartSession begins the countdown pre-roll and schedules activation.
// Only the host may start a session.
func (s *SessionService) StartSession(ctx context.Context, sessionID, hostID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return domain.ErrNotHost
	}
	if err := session.StartCountdown(); err != nil {
		return err
	}

	applied, err := s.sessions.UpdateStatus(ctx, sessionID, domain.StatusWaiting, domain.StatusCountdown)
	if err != nil {
		return fmt.Errorf("store countdown: %w", err)
	}
	if !applied {
		// Someone else already moved it along; treat as done.
		return nil
	}

	countdown := time.Duration(session.CountdownSeconds) * time.Second
	if session.CountdownSeconds == 0 {
		countdown = s.defaultCountdown
	}

	s.log.Info().
		Str("session_id", sessionID).
		Dur("countdown", countdown).
		Msg("session countdown started")
	s.publishLive(ctx, session)

	if countdown <= 0 {
		return s.activate(ctx, sessionID)
	}
	go s.activateAfter(sessionID, countdown)
	return nil
}

// activateAfter waits out the pre-roll on the authoritative clock, then
// flips the session active. The delay is a scheduled wait, not a lock.
func (s *SessionService) activateAfter(sessionID string, d time.Duration) {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	<-timer.Chan()

	if err := s.activate(context.Background(), sessionID); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("activation after countdown failed")
	}
}

func (s *SessionService) activate(ctx context.Context, sessionID string) error {
	applied, err := s.sessions.SetActive(ctx, sessionID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	if !applied {
		// Cancelled during countdown, or already active.
		return nil
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.log.Info().Str("session_id", sessionID).Time("started_at", *session.StartedAt).Msg("session active")
	s.publishLive(ctx, session)
	return nil
}

// Submit records one participant's final answers, scores them, and lets
// the end-mode policy decide whether the session is over.
//
// The call is idempotent: once a participant's Ended is set, repeats
// return the stored result without re-scoring. Submitting to a finished
// session is the same no-op. Store failures surface to the caller and are
// safe to retry.
func (s *SessionService) Submit(ctx context.Context, sessionID, participantID string, answers []string) (domain.SubmitResult, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	p, err := s.sessions.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if p.Finished() || session.Status == domain.StatusFinished {
		return p.Result(), nil
	}
	if len(answers) > len(session.Snapshot.Questions) {
		return domain.SubmitResult{}, domain.ErrAnswerCount
	}

	padded := make([]string, len(session.Snapshot.Questions))
	copy(padded, answers)

	elapsed := s.clock.Elapsed(session)
	res := scoring.Calculate(session.Snapshot, padded, elapsed, session.Duration(), s.strat)

	now := s.clock.Now()
	p.Answers = padded
	p.Ended = &now
	p.Score = res.Score
	p.Correct = res.Correct
	p.Accuracy = res.Accuracy

	if err := s.sessions.PutParticipant(ctx, p); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("store submission: %w", err)
	}

	if session.EndMode == domain.EndModeWaitTimer {
		// Safety copy while waiting for stragglers; the full snapshot at
		// finish supersedes it.
		if err := s.snapshots.SaveParticipant(ctx, sessionID, p); err != nil {
			s.log.Warn().Err(err).
				Str("session_id", sessionID).
				Str("participant_id", participantID).
				Msg("partial durable copy failed")
		}
	}

	s.publishLive(ctx, session)

	shouldFinish, err := s.orch.ShouldFinish(ctx, session)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("end-mode check failed")
	} else if shouldFinish {
		if err := s.orch.Finish(ctx, sessionID, "policy:"+string(session.EndMode)); err != nil {
			// The submission itself succeeded; the sweep path retries the
			// finish.
			s.log.Error().Err(err).Str("session_id", sessionID).Msg("policy finish failed")
		}
	}

	return p.Result(), nil
}

// EndNow is the host's manual stop. It races safely with automatic
// triggers: all of them funnel into the orchestrator's check-and-set.
func (s *SessionService) EndNow(ctx context.Context, sessionID, hostID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return domain.ErrNotHost
	}
	return s.orch.Finish(ctx, sessionID, "host_end")
}

// CancelSession aborts a session that has not gone active yet.
func (s *SessionService) CancelSession(ctx context.Context, sessionID, hostID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return domain.ErrNotHost
	}
	if err := session.Cancel(s.clock.Now()); err != nil {
		return err
	}
	return s.orch.Finish(ctx, sessionID, "host_cancel")
}

// LiveStatus is the read-only view for the UI layer: status, remaining
// time from the clock authority, and live per-participant scores.
type LiveStatus struct {
	SessionID   string        `json:"sessionId"`
	Status      domain.Status `json:"status"`
	RemainingMS int64         `json:"remainingMs"`
	Scores      []ScoreEntry  `json:"scores"`
}

func (s *SessionService) LiveStatus(ctx context.Context, sessionID string) (LiveStatus, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return LiveStatus{}, err
	}
	participants, err := s.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return LiveStatus{}, fmt.Errorf("list participants: %w", err)
	}

	entries := scoreEntries(participants)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return LiveStatus{
		SessionID:   sessionID,
		Status:      session.Status,
		RemainingMS: s.clock.Remaining(session).Milliseconds(),
		Scores:      entries,
	}, nil
}

// Summary returns the finished-session record from the durable store.
func (s *SessionService) Summary(ctx context.Context, sessionID string) (domain.SessionSnapshot, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			return domain.SessionSnapshot{}, err
		}
		return domain.SessionSnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

func (s *SessionService) publishLive(ctx context.Context, session domain.Session) {
	live, err := s.LiveStatus(ctx, session.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("live status read failed")
		return
	}
	s.notifier.Publish(Update{
		SessionID:   session.ID,
		Status:      live.Status,
		RemainingMS: live.RemainingMS,
		Scores:      live.Scores,
	})
}
