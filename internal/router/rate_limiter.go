package router

import (
	"sync"
	"time"
)

// Defaults for socket actions per user
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter is a per-user sliding-window log: a user may perform at most
// limit actions in any window-long interval.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[uint64][]time.Time
	now     func() time.Time
}

// NewRateLimiter creates a limiter; non-positive arguments take the defaults
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[uint64][]time.Time),
		now:     time.Now,
	}
}

// Allow records an action for userID if the window has room for it
func (rl *RateLimiter) Allow(userID uint64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := prune(rl.clients[userID], now.Add(-rl.window))
	if len(hits) >= rl.limit {
		rl.clients[userID] = hits
		return false
	}
	rl.clients[userID] = append(hits, now)
	return true
}

// Remaining reports how many actions userID may still take right now
func (rl *RateLimiter) Remaining(userID uint64) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	hits := prune(rl.clients[userID], rl.now().Add(-rl.window))
	rl.clients[userID] = hits
	return rl.limit - len(hits)
}

// Cleanup drops users with no actions inside the window
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for userID, hits := range rl.clients {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(rl.clients, userID)
		} else {
			rl.clients[userID] = hits
		}
	}
}

// prune drops timestamps at or before cutoff; hits are in ascending order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
