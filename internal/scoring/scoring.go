// Package scoring computes a participant's result from their submitted
// answers. Calculate is pure and deterministic; it may be re-run for
// idempotency checks and must yield identical output for identical input.
package scoring

import (
	"time"

	"quiz-session-service/internal/domain"
)

// Strategy decides how many points one correct answer is worth. Injected
// so scoring rules can change without touching submission or end-game
// logic.
type Strategy interface {
	Points(q domain.Question, elapsed, limit time.Duration) int
}

// Flat awards each correct answer its question's point weight.
type Flat struct{}

func (Flat) Points(q domain.Question, _, _ time.Duration) int {
	return questionPoints(q)
}

// SpeedBonus awards the question's points plus a bonus scaled by the
// fraction of the session clock still remaining at submission time. A
// participant submitting at the buzzer earns no bonus.
type SpeedBonus struct {
	Bonus int
}

func (s SpeedBonus) Points(q domain.Question, elapsed, limit time.Duration) int {
	base := questionPoints(q)
	if s.Bonus <= 0 || limit <= 0 {
		return base
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > limit {
		elapsed = limit
	}
	remaining := limit - elapsed
	// Integer math keeps the result exact and replayable.
	return base + int(int64(s.Bonus)*int64(remaining)/int64(limit))
}

func questionPoints(q domain.Question) int {
	if q.Points > 0 {
		return q.Points
	}
	return 1
}

// Result is the scored outcome for one participant.
type Result struct {
	Score        int
	Correct      []bool
	Answered     int
	CorrectCount int
	Accuracy     float64
}

// Calculate grades answers against the session's frozen quiz snapshot.
// Answers are positional: answers[i] is the chosen option ID for question
// i, "" meaning unanswered; trailing slots may be omitted. Accuracy is
// correct/answered as a percentage, and zero when nothing was answered.
func Calculate(snapshot domain.QuizSnapshot, answers []string, elapsed, limit time.Duration, strat Strategy) Result {
	res := Result{
		Correct: make([]bool, len(snapshot.Questions)),
	}

	for i, q := range snapshot.Questions {
		var chosen string
		if i < len(answers) {
			chosen = answers[i]
		}
		if chosen == "" {
			continue
		}
		res.Answered++
		if chosen == q.CorrectOption() {
			res.Correct[i] = true
			res.CorrectCount++
			res.Score += strat.Points(q, elapsed, limit)
		}
	}

	if res.Answered > 0 {
		res.Accuracy = float64(res.CorrectCount) / float64(res.Answered) * 100
	}
	return res
}
