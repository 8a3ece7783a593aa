package proxy

import (
	"sync"
	"time"
)

// Limiter grants each client a fixed number of calls per fixed window. The
// window starts with a client's first call and resets wholesale once it
// elapses.
//
// All methods are safe for concurrent use.
type Limiter struct {
	window   time.Duration
	maxCalls int

	mu      sync.Mutex
	clients map[string]*windowState
}

type windowState struct {
	start time.Time
	used  int
}

// Decision is the outcome of one [Limiter.Allow] call.
type Decision struct {
	Allowed bool

	// Limit is the per-window call budget.
	Limit int

	// Remaining is the number of calls left in the current window after this
	// one.
	Remaining int

	// Reset is when the current window ends.
	Reset time.Time
}

// RetryAfter returns the time until the window resets, rounded up to whole
// seconds and never less than one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.Reset.Sub(now)
	if rem := wait % time.Second; rem != 0 {
		wait += time.Second - rem
	}
	return max(wait, time.Second)
}

// NewLimiter returns a Limiter allowing maxCalls per window for each client.
func NewLimiter(window time.Duration, maxCalls int) *Limiter {
	return &Limiter{
		window:   window,
		maxCalls: maxCalls,
		clients:  make(map[string]*windowState),
	}
}

// Allow records a call from client at now and reports whether it fits in the
// client's current window.
func (l *Limiter) Allow(client string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.clients[client]
	if !ok || !now.Before(st.start.Add(l.window)) {
		l.gcLocked(now)
		st = &windowState{start: now}
		l.clients[client] = st
	}

	d := Decision{Limit: l.maxCalls, Reset: st.start.Add(l.window)}
	if st.used >= l.maxCalls {
		return d
	}
	st.used++
	d.Allowed = true
	d.Remaining = l.maxCalls - st.used
	return d
}

// gcLocked drops clients whose window has ended.
func (l *Limiter) gcLocked(now time.Time) {
	for k, st := range l.clients {
		if !now.Before(st.start.Add(l.window)) {
			delete(l.clients, k)
		}
	}
}

// Clients returns the number of clients with an open window.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
