// Package clock is the single trusted source of "now" for the engine.
// All deadline math is computed against this authority; participant
// device clocks are never consulted.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-session-service/internal/domain"
)

// Authority answers every timing question the engine asks. In production
// it wraps the real clock; tests inject a clockwork fake.
type Authority struct {
	clock clockwork.Clock
}

func NewAuthority() *Authority {
	return &Authority{clock: clockwork.NewRealClock()}
}

// NewAuthorityWithClock is for tests that need deterministic time.
func NewAuthorityWithClock(c clockwork.Clock) *Authority {
	return &Authority{clock: c}
}

// Now is the authoritative timestamp for all scheduling decisions.
func (a *Authority) Now() time.Time {
	return a.clock.Now()
}

// NewTimer lets callers schedule delays (countdown pre-roll, sweep loop)
// against the same clock the deadline math uses.
func (a *Authority) NewTimer(d time.Duration) clockwork.Timer {
	return a.clock.NewTimer(d)
}

// After mirrors time.After on the authoritative clock.
func (a *Authority) After(d time.Duration) <-chan time.Time {
	return a.clock.After(d)
}

// Remaining reports how much playing time is left. Outside active play it
// returns fixed sentinels rather than computed values: the full duration
// while waiting or counting down, zero once finished. Never negative.
func (a *Authority) Remaining(s domain.Session) time.Duration {
	switch s.Status {
	case domain.StatusFinished:
		return 0
	case domain.StatusActive:
		if s.StartedAt == nil {
			return 0
		}
		deadline := s.StartedAt.Add(s.Duration())
		left := deadline.Sub(a.clock.Now())
		if left < 0 {
			return 0
		}
		return left
	default:
		return s.Duration()
	}
}

// Elapsed is the time played so far, clamped to the session duration.
func (a *Authority) Elapsed(s domain.Session) time.Duration {
	return s.Duration() - a.Remaining(s)
}

// Expired reports whether an active session has run out its clock.
func (a *Authority) Expired(s domain.Session) bool {
	return s.Status == domain.StatusActive && a.Remaining(s) == 0
}
