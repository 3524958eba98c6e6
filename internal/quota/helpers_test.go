package quota

import (
	"testing"
	"time"
)

// waitFor polls cond until it holds or the test deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition never held")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
