package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quiz-session-service/internal/clock"
)

// Sweeper periodically finishes sessions whose clocks have expired. It is
// the in-server twin of the external scheduler: both call the same
// idempotent CheckExpired, so overlapping runs are harmless.
type Sweeper struct {
	orch     *Orchestrator
	clock    *clock.Authority
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(orch *Orchestrator, authority *clock.Authority, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{orch: orch, clock: authority, interval: interval, log: log}
}

// Run loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	timer := s.clock.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			if err := s.orch.CheckExpired(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep pass failed")
			}
			timer.Reset(s.interval)
		}
	}
}
