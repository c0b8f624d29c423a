package game

import "time"

type rateEntry struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window counter keyed by connection id.
//
// The first action of a window is always accepted and opens the window; later
// actions are accepted until the cap is reached. A window ends once now is
// strictly after resetAt. Bursts of up to 2*cap are possible across a window
// boundary; this is accepted.
//
// RateLimiter is not safe for concurrent use. It lives inside a Session and is
// only touched from the engine loop.
type RateLimiter struct {
	limit   int
	window  time.Duration
	entries map[string]*rateEntry
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*rateEntry),
	}
}

// Allow records an action for key at now and reports whether it fits the budget.
func (l *RateLimiter) Allow(key string, now time.Time) bool {
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = &rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}

// Forget drops the entry for key.
func (l *RateLimiter) Forget(key string) {
	delete(l.entries, key)
}

// Len returns the number of tracked connections.
func (l *RateLimiter) Len() int {
	return len(l.entries)
}
