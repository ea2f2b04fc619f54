package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSnapshotNotFound indicates no durable record exists for a session.
	ErrSnapshotNotFound = errors.New("session snapshot not found")
	// ErrInvalidTransition is returned for an illegal status change.
	ErrInvalidTransition = errors.New("invalid session status transition")
	// ErrAlreadyStarted guards against setting the start time twice.
	ErrAlreadyStarted = errors.New("session start time already set")
	// ErrAnswerCount is returned when a submission has more answers than
	// the session's quiz snapshot has questions.
	ErrAnswerCount = errors.New("answer count exceeds question count")
	// ErrNotInRoster is returned when a user outside the roster joins.
	ErrNotInRoster = errors.New("user not in session roster")
	// ErrJoinClosed is returned when joining after play has begun.
	ErrJoinClosed = errors.New("session no longer accepts participants")
	// ErrNotHost is returned when a non-host sends a host control action.
	ErrNotHost = errors.New("action restricted to session host")
)
