package portal

import (
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
)

// LoopGuard detects redirect loops: a hotspot client bouncing between the
// router and the portal hits the same path repeatedly with the same session
// id. More than the threshold within the window short-circuits to a
// diagnostic page instead of redirecting again.
type LoopGuard struct {
	threshold int
	window    time.Duration
	now       func() time.Time

	mu   sync.Mutex
	hits otter.Cache[string, attemptWindow]
}

// NewLoopGuard defaults to 5 hits in 30 seconds.
func NewLoopGuard(threshold int, window time.Duration) *LoopGuard {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	hits, err := otter.MustBuilder[string, attemptWindow](100_000).
		Cost(func(_ string, _ attemptWindow) uint32 { return 1 }).
		WithTTL(window).
		Build()
	if err != nil {
		panic("portal: loop guard cache: " + err.Error())
	}
	return &LoopGuard{threshold: threshold, window: window, now: time.Now, hits: hits}
}

// loopKey hashes the session id together with the normalized URL path, so
// distinct destinations never collide into one loop signal.
func loopKey(sessionID, rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Host + u.Path
	}
	h := xxh3.HashString(sessionID + "|" + path)
	return strconv.FormatUint(h, 16)
}

// Looping records one redirect for the session and destination and reports
// whether the loop threshold has been crossed.
func (g *LoopGuard) Looping(sessionID, rawURL string) bool {
	if sessionID == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	key := loopKey(sessionID, rawURL)
	w, ok := g.hits.Get(key)
	if !ok || now.Sub(w.start) > g.window {
		w = attemptWindow{start: now}
	}
	w.count++
	g.hits.Set(key, w)
	return w.count > g.threshold
}
