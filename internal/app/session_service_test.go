package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/clock"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
)

type engine struct {
	service   *app.SessionService
	sessions  *memory.SessionStore
	snapshots app.SnapshotStore
	fake      *clockwork.FakeClock
	authority *clock.Authority
}

func newTestEngine(t *testing.T, snapshots app.SnapshotStore) *engine {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	authority := clock.NewAuthorityWithClock(fake)
	sessions := memory.NewSessionStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID: "q1",
					Options: []domain.Option{
						{ID: "A", Text: "Right", Correct: true},
						{ID: "B", Text: "Wrong", Correct: false},
					},
					Points: 1,
				},
				{
					ID: "q2",
					Options: []domain.Option{
						{ID: "A", Text: "Wrong", Correct: false},
						{ID: "B", Text: "Right", Correct: true},
					},
					Points: 1,
				},
			},
		},
	}), 5*time.Minute)

	service := app.NewSessionService(app.SessionServiceConfig{
		Sessions:  sessions,
		Snapshots: snapshots,
		Quizzes:   quizzes,
		Clock:     authority,
		Logger:    zerolog.Nop(),
	})
	return &engine{
		service:   service,
		sessions:  sessions,
		snapshots: snapshots,
		fake:      fake,
		authority: authority,
	}
}

// startActiveSession creates, fills, and activates a session with the
// given participants. Countdown is zero so activation is synchronous.
func (e *engine) startActiveSession(t *testing.T, mode domain.EndMode, minutes int, users ...string) (domain.Session, map[string]domain.Participant) {
	t.Helper()
	ctx := context.Background()

	session, err := e.service.CreateSession(ctx, app.CreateSessionRequest{
		QuizID:           "quiz-1",
		HostID:           "host-1",
		EndMode:          mode,
		TotalTimeMinutes: minutes,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	participants := make(map[string]domain.Participant, len(users))
	for _, u := range users {
		p, err := e.service.Join(ctx, session.ID, u, "Player "+u)
		if err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
		participants[u] = p
	}

	if err := e.service.StartSession(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}

	got, err := e.sessions.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if got.Status != domain.StatusActive || got.StartedAt == nil {
		t.Fatalf("expected active session with start time, got %s %v", got.Status, got.StartedAt)
	}
	return got, participants
}

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.NewSnapshotStore())
	session, participants := e.startActiveSession(t, domain.EndModeManual, 1, "u1")
	p := participants["u1"]

	e.fake.Advance(10 * time.Second)
	first, err := e.service.Submit(ctx, session.ID, p.ID, []string{"A", "B"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Score != 2 || first.Accuracy != 100 {
		t.Fatalf("expected both answers correct, got score=%d accuracy=%v", first.Score, first.Accuracy)
	}
	if first.Ended == nil {
		t.Fatalf("expected ended timestamp on submit")
	}

	// Retry with different answers after more time: must not re-score.
	e.fake.Advance(20 * time.Second)
	second, err := e.service.Submit(ctx, session.ID, p.ID, []string{"B", "A"})
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if second.Score != first.Score || !second.Ended.Equal(*first.Ended) {
		t.Fatalf("repeat submit changed the result: %+v vs %+v", first, second)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.NewSnapshotStore())
	session, participants := e.startActiveSession(t, domain.EndModeManual, 1, "u1")

	if _, err := e.service.Submit(ctx, session.ID, "nobody", []string{"A"}); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected participant error, got %v", err)
	}
	if _, err := e.service.Submit(ctx, "missing", participants["u1"].ID, []string{"A"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session error, got %v", err)
	}
	if _, err := e.service.Submit(ctx, session.ID, participants["u1"].ID, []string{"A", "B", "A"}); !errors.Is(err, domain.ErrAnswerCount) {
		t.Fatalf("expected answer count error, got %v", err)
	}
}

func TestManualEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	e := newTestEngine(t, store)
	session, participants := e.startActiveSession(t, domain.EndModeManual, 1, "u1")
	p := participants["u1"]

	// "A" is correct for q1, "B" is wrong for q2.
	result, err := e.service.Submit(ctx, session.ID, p.ID, []string{"A", "A"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 1 || result.Accuracy != 50 {
		t.Fatalf("expected one correct answer and 50%% accuracy, got score=%d accuracy=%v", result.Score, result.Accuracy)
	}

	// Manual mode: submission must not end the session.
	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusActive {
		t.Fatalf("manual session ended by submission: %s", got.Status)
	}

	if err := e.service.EndNow(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("end now: %v", err)
	}
	got, _ = e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusFinished {
		t.Fatalf("expected finished after end now, got %s", got.Status)
	}
	if store.SnapshotCount() != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", store.SnapshotCount())
	}

	snap, err := e.service.Summary(ctx, session.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].Score != 1 {
		t.Fatalf("snapshot must hold the final score, got %+v", snap.Participants)
	}
}

func TestWaitTimerNeedsEveryParticipant(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	e := newTestEngine(t, store)
	session, participants := e.startActiveSession(t, domain.EndModeWaitTimer, 5, "u1", "u2", "u3")

	for _, u := range []string{"u1", "u2"} {
		if _, err := e.service.Submit(ctx, session.ID, participants[u].ID, []string{"A", "B"}); err != nil {
			t.Fatalf("submit %s: %v", u, err)
		}
		got, _ := e.sessions.GetSession(ctx, session.ID)
		if got.Status == domain.StatusFinished {
			t.Fatalf("session ended before all participants finished")
		}
	}

	// Safety copies for the two finishers, but no full snapshot yet.
	if store.PartialCount(session.ID) != 2 {
		t.Fatalf("expected 2 partial copies, got %d", store.PartialCount(session.ID))
	}
	if store.SnapshotCount() != 0 {
		t.Fatalf("full snapshot written early")
	}

	if _, err := e.service.Submit(ctx, session.ID, participants["u3"].ID, []string{"A", "B"}); err != nil {
		t.Fatalf("submit u3: %v", err)
	}
	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusFinished {
		t.Fatalf("expected finished after last participant, got %s", got.Status)
	}
	if store.SnapshotCount() != 1 {
		t.Fatalf("expected exactly one snapshot, got %d", store.SnapshotCount())
	}

	snap, _ := e.service.Summary(ctx, session.ID)
	if len(snap.Participants) != 3 {
		t.Fatalf("snapshot must include all participants, got %d", len(snap.Participants))
	}
	// The full sync supersedes the partial copies.
	if store.PartialCount(session.ID) != 0 {
		t.Fatalf("partial copies must be replaced by the full sync")
	}
}

func TestFirstFinishEndsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	e := newTestEngine(t, store)
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	session, participants := e.startActiveSession(t, domain.EndModeFirstFinish, 5, users...)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, _ = e.service.Submit(ctx, session.ID, pid, []string{"A", "B"})
		}(participants[u].ID)
	}
	wg.Wait()

	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusFinished {
		t.Fatalf("expected finished, got %s", got.Status)
	}
	if store.SnapshotCount() != 1 {
		t.Fatalf("expected exactly one snapshot under concurrent finishers, got %d", store.SnapshotCount())
	}
}

// failingSnapshotStore simulates a durable store outage.
type failingSnapshotStore struct {
	*memory.SnapshotStore
	mu   sync.Mutex
	fail bool
}

func (s *failingSnapshotStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *failingSnapshotStore) SaveSnapshot(ctx context.Context, snap domain.SessionSnapshot) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("durable store unavailable")
	}
	return s.SnapshotStore.SaveSnapshot(ctx, snap)
}

func TestDurableFailureRollsBackFinish(t *testing.T) {
	ctx := context.Background()
	store := &failingSnapshotStore{SnapshotStore: memory.NewSnapshotStore(), fail: true}
	e := newTestEngine(t, store)
	session, _ := e.startActiveSession(t, domain.EndModeManual, 5, "u1")

	if err := e.service.EndNow(ctx, session.ID, "host-1"); err == nil {
		t.Fatalf("expected error when durable write fails")
	}

	// The session must never sit finished without a durable record.
	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusActive {
		t.Fatalf("failed finish must roll back to active, got %s", got.Status)
	}
	if store.SnapshotCount() != 0 {
		t.Fatalf("no snapshot expected after failed sync")
	}

	// Retry after recovery succeeds through the same entry point.
	store.setFail(false)
	if err := e.service.EndNow(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	got, _ = e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusFinished || store.SnapshotCount() != 1 {
		t.Fatalf("expected finished with one snapshot, got %s count=%d", got.Status, store.SnapshotCount())
	}
}

func TestSweepFinishesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	e := newTestEngine(t, store)
	session, _ := e.startActiveSession(t, domain.EndModeManual, 1, "u1")

	e.fake.Advance(30 * time.Second)
	if err := e.service.Orchestrator().CheckExpired(ctx); err != nil {
		t.Fatalf("check expired: %v", err)
	}
	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusActive {
		t.Fatalf("session swept before its clock ran out")
	}

	e.fake.Advance(31 * time.Second)
	if err := e.service.Orchestrator().CheckExpired(ctx); err != nil {
		t.Fatalf("check expired: %v", err)
	}
	got, _ = e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusFinished {
		t.Fatalf("expected expired session finished, got %s", got.Status)
	}
	if store.SnapshotCount() != 1 {
		t.Fatalf("expected one snapshot from sweep, got %d", store.SnapshotCount())
	}
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.NewSnapshotStore())

	session, err := e.service.CreateSession(ctx, app.CreateSessionRequest{
		QuizID:           "quiz-1",
		HostID:           "host-1",
		TotalTimeMinutes: 1,
		Roster:           []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, err := e.service.Join(ctx, session.ID, "intruder", "Eve"); !errors.Is(err, domain.ErrNotInRoster) {
		t.Fatalf("expected roster rejection, got %v", err)
	}

	first, err := e.service.Join(ctx, session.ID, "u1", "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	again, err := e.service.Join(ctx, session.ID, "u1", "Alice A.")
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("re-join must reuse the participant row")
	}
	if again.DisplayName != "Alice A." {
		t.Fatalf("re-join must refresh display name, got %q", again.DisplayName)
	}

	if err := e.service.StartSession(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.service.Join(ctx, session.ID, "u2", "Bob"); !errors.Is(err, domain.ErrJoinClosed) {
		t.Fatalf("expected join closed after start, got %v", err)
	}
}

func TestSubmitToFinishedSessionIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	e := newTestEngine(t, store)
	session, participants := e.startActiveSession(t, domain.EndModeManual, 1, "u1", "u2")

	if _, err := e.service.Submit(ctx, session.ID, participants["u1"].ID, []string{"A", "B"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.service.EndNow(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("end now: %v", err)
	}

	// The straggler's late submit is a quiet no-op; their snapshot row
	// stays unanswered rather than being lost or rejected.
	res, err := e.service.Submit(ctx, session.ID, participants["u2"].ID, []string{"A", "B"})
	if err != nil {
		t.Fatalf("late submit must not error, got %v", err)
	}
	if res.Ended != nil || res.Score != 0 {
		t.Fatalf("late submit must not score, got %+v", res)
	}

	snap, _ := e.service.Summary(ctx, session.ID)
	for _, p := range snap.Participants {
		if p.UserID == "u2" && p.Finished() {
			t.Fatalf("straggler must appear unfinished in the snapshot")
		}
	}
	if store.SnapshotCount() != 1 {
		t.Fatalf("expected one snapshot, got %d", store.SnapshotCount())
	}
}

func TestCancelBeforeStartKeepsStartUnset(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore()
	e := newTestEngine(t, store)

	session, err := e.service.CreateSession(ctx, app.CreateSessionRequest{
		QuizID:           "quiz-1",
		HostID:           "host-1",
		TotalTimeMinutes: 1,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := e.service.CancelSession(ctx, session.ID, "nobody"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("expected host check, got %v", err)
	}
	if err := e.service.CancelSession(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusFinished || got.StartedAt != nil {
		t.Fatalf("cancelled session must be finished with no start time, got %s %v", got.Status, got.StartedAt)
	}
	snap, err := e.service.Summary(ctx, session.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if snap.StartedAt != nil {
		t.Fatalf("snapshot of a cancelled session must have no start time")
	}
}

func TestCountdownActivatesOnAuthoritativeClock(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, memory.NewSnapshotStore())

	session, err := e.service.CreateSession(ctx, app.CreateSessionRequest{
		QuizID:           "quiz-1",
		HostID:           "host-1",
		TotalTimeMinutes: 1,
		CountdownSeconds: 10,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := e.service.Join(ctx, session.ID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := e.service.StartSession(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, _ := e.sessions.GetSession(ctx, session.ID)
	if got.Status != domain.StatusCountdown || got.StartedAt != nil {
		t.Fatalf("expected countdown with no start time, got %s %v", got.Status, got.StartedAt)
	}

	// Wait for the activation goroutine to arm its timer, then run the
	// pre-roll down.
	e.fake.BlockUntil(1)
	e.fake.Advance(10 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ = e.sessions.GetSession(ctx, session.ID)
		if got.Status == domain.StatusActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never activated, status %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(e.fake.Now()) {
		t.Fatalf("start time must come from the authoritative clock, got %v", got.StartedAt)
	}
}
