// ratelimit.go — Per-minute log volume cap.
// Counts accepted events per epoch minute (unix time / 60) and rejects once
// the configured cap for the current minute is exceeded. The epoch-minute
// key is monotonic, so keys from different months can never collide. The
// clock is injectable for deterministic tests.
package policy

import (
	"sync"
	"time"
)

// MinuteLimiter enforces a hard per-minute cap. A limit of zero or below
// disables the limiter: every event is allowed.
type MinuteLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[int64]int
	now    func() time.Time
}

// NewMinuteLimiter builds a limiter with the given cap. now may be nil.
func NewMinuteLimiter(limit int, now func() time.Time) *MinuteLimiter {
	if now == nil {
		now = time.Now
	}
	return &MinuteLimiter{
		limit:  limit,
		counts: make(map[int64]int),
		now:    now,
	}
}

// Allow records one event against the current minute and reports whether it
// is within the cap. The (limit+1)-th event in a minute is the first one
// rejected.
func (l *MinuteLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return true
	}
	key := l.now().Unix() / 60
	l.counts[key]++
	return l.counts[key] <= l.limit
}

// SetLimit replaces the cap and resets all counters.
func (l *MinuteLimiter) SetLimit(limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.counts = make(map[int64]int)
}

// Limit returns the configured cap.
func (l *MinuteLimiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Purge drops counters for minutes other than the current one. The
// coordinator runs this from a janitor timer so the map stays bounded.
func (l *MinuteLimiter) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.now().Unix() / 60
	for key := range l.counts {
		if key != current {
			delete(l.counts, key)
		}
	}
}
