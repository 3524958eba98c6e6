package quota

import (
	"context"
	"log"
	"time"
)

// StaleCloser is the one store call the sweeper needs.
type StaleCloser interface {
	CloseStaleSessions(ctx context.Context, cutoff time.Time, now time.Time) (int64, error)
}

// StaleSweeper closes sessions whose last accounting update is older than the
// idle cutoff. A router that loses power mid-session never sends a stop; the
// open row would otherwise pin the user's quota forever.
type StaleSweeper struct {
	st        StaleCloser
	idleAfter time.Duration
	now       func() time.Time
}

// NewStaleSweeper uses a 10 minute idle cutoff when idleAfter is zero.
func NewStaleSweeper(st StaleCloser, idleAfter time.Duration) *StaleSweeper {
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}
	return &StaleSweeper{st: st, idleAfter: idleAfter, now: time.Now}
}

// Sweep runs one pass. Scheduled every 5 minutes.
func (s *StaleSweeper) Sweep(ctx context.Context) error {
	now := s.now()
	n, err := s.st.CloseStaleSessions(ctx, now.Add(-s.idleAfter), now)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[sweeper] closed %d stale sessions", n)
	}
	return nil
}
