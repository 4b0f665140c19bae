package identity

import "time"

// rateWindow tracks attempts for one identifier.
type rateWindow struct {
	Attempts     int       `json:"attempts"`
	FirstAttempt time.Time `json:"first_attempt"`
	LockedUntil  time.Time `json:"locked_until,omitempty"`
}

// RateLimiter counts attempts per identifier in a sliding window and locks the
// identifier out for twice the window once the threshold is exceeded. It is not
// internally synchronized: the owning service serializes access.
type RateLimiter struct {
	now     func() time.Time
	windows map[string]*rateWindow
}

// NewRateLimiter creates a limiter with the given clock.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{now: now, windows: make(map[string]*rateWindow)}
}

// Allow records an attempt for the identifier and reports whether it may
// proceed. Each identifier (e.g. "login:10.0.0.1", "login:a@b.c") has its own
// independent counter.
func (l *RateLimiter) Allow(identifier string, maxAttempts int, window time.Duration) bool {
	now := l.now()

	w, ok := l.windows[identifier]
	if !ok {
		l.windows[identifier] = &rateWindow{Attempts: 1, FirstAttempt: now}
		return true
	}

	if !w.LockedUntil.IsZero() {
		if now.Before(w.LockedUntil) {
			return false
		}
		w.Attempts = 1
		w.FirstAttempt = now
		w.LockedUntil = time.Time{}
		return true
	}

	if now.Sub(w.FirstAttempt) > window {
		w.Attempts = 1
		w.FirstAttempt = now
		return true
	}

	w.Attempts++
	if w.Attempts > maxAttempts {
		w.LockedUntil = now.Add(2 * window)
		return false
	}
	return true
}

// Sweep drops counters whose window and lockout have both passed.
func (l *RateLimiter) Sweep(window time.Duration) int {
	now := l.now()
	removed := 0
	for id, w := range l.windows {
		if now.Sub(w.FirstAttempt) > window && (w.LockedUntil.IsZero() || now.After(w.LockedUntil)) {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}
