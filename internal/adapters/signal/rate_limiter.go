package signal

import (
	"sync"
	"time"

	"github.com/dkeye/tgcalls/internal/domain"
)

// FrameRateLimiter is a sliding window over inbound frames per user.
type FrameRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewFrameRateLimiter returns nil when limit or interval is not positive,
// which disables limiting.
func NewFrameRateLimiter(limit int, interval time.Duration) *FrameRateLimiter {
	if limit <= 0 || interval <= 0 {
		return nil
	}
	return &FrameRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *FrameRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	return true
}

func (rl *FrameRateLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	delete(rl.history, uid)
	rl.mu.Unlock()
}
