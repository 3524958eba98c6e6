package quota

import (
	"context"
	"testing"
	"time"
)

type stubStaleCloser struct {
	cutoff, now time.Time
	closed      int64
	calls       int
}

func (s *stubStaleCloser) CloseStaleSessions(_ context.Context, cutoff, now time.Time) (int64, error) {
	s.cutoff, s.now, s.calls = cutoff, now, s.calls+1
	return s.closed, nil
}

func TestStaleSweeper_UsesIdleCutoff(t *testing.T) {
	st := &stubStaleCloser{closed: 3}
	sw := NewStaleSweeper(st, 0) // default 10 minutes
	fixed := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sw.now = func() time.Time { return fixed }

	if err := sw.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st.calls != 1 {
		t.Fatalf("calls = %d", st.calls)
	}
	if want := fixed.Add(-10 * time.Minute); !st.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", st.cutoff, want)
	}
	if !st.now.Equal(fixed) {
		t.Fatalf("now = %v, want %v", st.now, fixed)
	}
}
