package scheduler

import (
	"sync"
	"time"
)

// rateLimiter enforces a sliding-window start cap: at most max job starts
// per duration. Reserve blocks the caller until a start slot opens.
type rateLimiter struct {
	mu       sync.Mutex
	max      int
	duration time.Duration
	starts   []time.Time
}

func newRateLimiter(limit RateLimit) *rateLimiter {
	return &rateLimiter{max: limit.Max, duration: limit.Duration}
}

// Reserve claims a start slot, sleeping until one is free. It returns the
// time the slot was granted.
func (l *rateLimiter) Reserve() time.Time {
	for {
		l.mu.Lock()
		now := time.Now()
		l.evict(now)
		if len(l.starts) < l.max {
			l.starts = append(l.starts, now)
			l.mu.Unlock()
			return now
		}
		wait := l.starts[0].Add(l.duration).Sub(now)
		l.mu.Unlock()
		if wait > 0 {
			time.Sleep(wait)
		}
	}
}

func (l *rateLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.duration)
	kept := l.starts[:0]
	for _, t := range l.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.starts = kept
}
