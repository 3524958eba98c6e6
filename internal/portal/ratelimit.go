package portal

import (
	"sync"
	"time"

	"github.com/maypok86/otter"
)

type attemptWindow struct {
	count int
	start time.Time
}

// RateLimiter throttles login attempts per client key (source IP or MAC).
// Crossing the threshold within the window blocks the key for the block
// duration. Bounded by an otter cache so hostile key churn cannot grow memory.
type RateLimiter struct {
	limit    int
	window   time.Duration
	blockFor time.Duration
	now      func() time.Time

	mu       sync.Mutex
	attempts otter.Cache[string, attemptWindow]
	blocked  otter.Cache[string, time.Time]
}

// NewRateLimiter uses the portal defaults when given zero values: 5 attempts
// per 15 minutes, 30 minute block.
func NewRateLimiter(limit int, window, blockFor time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if blockFor <= 0 {
		blockFor = 30 * time.Minute
	}
	attempts, err := otter.MustBuilder[string, attemptWindow](100_000).
		Cost(func(_ string, _ attemptWindow) uint32 { return 1 }).
		WithTTL(window).
		Build()
	if err != nil {
		panic("portal: rate limiter attempts cache: " + err.Error())
	}
	blocked, err := otter.MustBuilder[string, time.Time](100_000).
		Cost(func(_ string, _ time.Time) uint32 { return 1 }).
		WithTTL(blockFor).
		Build()
	if err != nil {
		panic("portal: rate limiter block cache: " + err.Error())
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		blockFor: blockFor,
		now:      time.Now,
		attempts: attempts,
		blocked:  blocked,
	}
}

// Allow records one attempt for the key. When the key is over the threshold
// it returns false with the time remaining until the block lifts.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	if until, ok := l.blocked.Get(key); ok && until.After(now) {
		return false, until.Sub(now)
	}

	w, ok := l.attempts.Get(key)
	if !ok || now.Sub(w.start) > l.window {
		w = attemptWindow{start: now}
	}
	w.count++
	l.attempts.Set(key, w)

	if w.count > l.limit {
		until := now.Add(l.blockFor)
		l.blocked.Set(key, until)
		return false, l.blockFor
	}
	return true, 0
}
