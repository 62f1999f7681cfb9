package registry

import (
	"sync"
	"time"
)

// RoomRateLimiter is a per-key sliding-window limiter, adapted from the
// teacher's rate limiter with an injectable clock so tests don't sleep
// real time. The relay keys it by remote address for handshake
// authentication attempts (spec.md §5's "5 per 15 minutes" default);
// nothing here is specific to rooms or users, so it is reused as-is.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// WithClock overrides the limiter's time source; used by tests.
func (rl *RoomRateLimiter) WithClock(now func() time.Time) *RoomRateLimiter {
	rl.now = now
	return rl
}

func (rl *RoomRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}
