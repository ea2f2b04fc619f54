package domain

import "time"

// Status is the lifecycle state of a session. Transitions are owned by
// the state machine in state.go; no other code writes Status directly.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
)

// EndMode selects how a session decides it is over.
type EndMode string

const (
	// EndModeManual finishes only on a host "end now" or timer expiry.
	EndModeManual EndMode = "manual"
	// EndModeFirstFinish finishes the moment any one participant submits.
	EndModeFirstFinish EndMode = "first_finish"
	// EndModeWaitTimer finishes once every participant has submitted.
	EndModeWaitTimer EndMode = "wait_timer"
)

// ValidEndMode reports whether m is one of the recognized end modes.
func ValidEndMode(m EndMode) bool {
	switch m {
	case EndModeManual, EndModeFirstFinish, EndModeWaitTimer:
		return true
	}
	return false
}

// Session is one quiz run. The quiz content is frozen into Snapshot at
// creation time so later edits to the source quiz never affect a run in
// progress.
type Session struct {
	ID               string       `json:"id"`
	QuizID           string       `json:"quizId"`
	HostID           string       `json:"hostId"`
	Status           Status       `json:"status"`
	EndMode          EndMode      `json:"endMode"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	FinishedAt       *time.Time   `json:"finishedAt,omitempty"`
	TotalTimeMinutes int          `json:"totalTimeMinutes"`
	QuestionLimit    int          `json:"questionLimit"`
	CountdownSeconds int          `json:"countdownSeconds"`
	Roster           []string     `json:"roster,omitempty"`
	Snapshot         QuizSnapshot `json:"snapshot"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// Duration is the playing time of the session.
func (s Session) Duration() time.Duration {
	return time.Duration(s.TotalTimeMinutes) * time.Minute
}

// InRoster reports whether userID may join. An empty roster admits anyone.
func (s Session) InRoster(userID string) bool {
	if len(s.Roster) == 0 {
		return true
	}
	for _, id := range s.Roster {
		if id == userID {
			return true
		}
	}
	return false
}

// QuizSnapshot is the ordered, frozen copy of the quiz a session plays.
type QuizSnapshot struct {
	QuizID    string     `json:"quizId"`
	Questions []Question `json:"questions"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// CorrectOption returns the ID of the correct option, or "" if none is
// flagged.
func (q Question) CorrectOption() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// Quiz is the authored source a snapshot is taken from.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Participant is one player's record within a session. Answers holds the
// chosen option ID per question slot, "" meaning unanswered. Ended is set
// at most once, by the submission path; nil means still playing.
type Participant struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	Answers     []string   `json:"answers"`
	Ended       *time.Time `json:"ended,omitempty"`
	Score       int        `json:"score"`
	Correct     []bool     `json:"correct,omitempty"`
	Accuracy    float64    `json:"accuracy"`
}

// Finished reports whether the participant has submitted.
func (p Participant) Finished() bool { return p.Ended != nil }

// SubmitResult is what a participant gets back from a submission. Repeat
// submissions return the identical result.
type SubmitResult struct {
	ParticipantID string     `json:"participantId"`
	Score         int        `json:"score"`
	Correct       []bool     `json:"correct"`
	Accuracy      float64    `json:"accuracy"`
	Ended         *time.Time `json:"ended,omitempty"`
}

// Result converts the participant's stored state into a submit result.
func (p Participant) Result() SubmitResult {
	return SubmitResult{
		ParticipantID: p.ID,
		Score:         p.Score,
		Correct:       p.Correct,
		Accuracy:      p.Accuracy,
		Ended:         p.Ended,
	}
}

// SessionSnapshot is the immutable record of a finished session written
// once to the durable store. Downstream history and leaderboard features
// read only this.
type SessionSnapshot struct {
	SessionID        string        `json:"sessionId"`
	QuizID           string        `json:"quizId"`
	HostID           string        `json:"hostId"`
	EndMode          EndMode       `json:"endMode"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	FinishedAt       time.Time     `json:"finishedAt"`
	TotalTimeMinutes int           `json:"totalTimeMinutes"`
	QuestionCount    int           `json:"questionCount"`
	Participants     []Participant `json:"participants"`
}
