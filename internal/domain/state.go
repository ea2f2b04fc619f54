package domain

import (
	"fmt"
	"time"
)

// transitions is the legal status graph. A host may cut straight to
// finished from waiting (cancel) or active (manual early stop); countdown
// can also be cancelled. Nothing leaves finished.
var transitions = map[Status][]Status{
	StatusWaiting:   {StatusCountdown, StatusFinished},
	StatusCountdown: {StatusActive, StatusFinished},
	StatusActive:    {StatusFinished},
	StatusFinished:  {},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StartCountdown moves the session into its pre-roll. StartedAt remains
// unset until activation.
func (s *Session) StartCountdown() error {
	if !CanTransition(s.Status, StatusCountdown) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusCountdown)
	}
	s.Status = StatusCountdown
	return nil
}

// Activate starts the clock. The start time is fixed exactly once, at the
// moment of entry into active.
func (s *Session) Activate(now time.Time) error {
	if s.StartedAt != nil {
		return ErrAlreadyStarted
	}
	if !CanTransition(s.Status, StatusActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusActive)
	}
	s.Status = StatusActive
	s.StartedAt = &now
	return nil
}

// Finish moves the session to its terminal state. Finishing an already
// finished session is a no-op, not an error, so duplicate triggers and
// retries are harmless.
func (s *Session) Finish(now time.Time) error {
	if s.Status == StatusFinished {
		return nil
	}
	if !CanTransition(s.Status, StatusFinished) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, StatusFinished)
	}
	s.Status = StatusFinished
	s.FinishedAt = &now
	return nil
}

// Cancel aborts a session that never went active. It is the one path to
// finished that leaves StartedAt nil.
func (s *Session) Cancel(now time.Time) error {
	switch s.Status {
	case StatusWaiting, StatusCountdown:
		return s.Finish(now)
	case StatusFinished:
		return nil
	default:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.Status)
	}
}
