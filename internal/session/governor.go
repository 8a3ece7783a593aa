package session

import (
	"sync"
	"time"
)

// Governor enforces a ceiling on cumulative analysis time for one run. Every
// tick is charged a fixed nominal duration; wall-clock drift is ignored.
//
// Once exhausted a Governor stays exhausted. There is no reset: a new run
// needs a new Governor.
//
// All methods are safe for concurrent use.
type Governor struct {
	ceiling time.Duration
	nominal time.Duration

	mu        sync.Mutex
	elapsed   time.Duration
	ticks     int
	exhausted bool
}

// NewGovernor returns a Governor that trips once the charged time reaches
// ceiling. A non-positive ceiling never trips.
func NewGovernor(ceiling, nominal time.Duration) *Governor {
	return &Governor{ceiling: ceiling, nominal: nominal}
}

// Charge adds one tick of nominal duration and reports whether the budget is
// now exhausted. The charge that reaches the ceiling is the one that trips
// it; charging an exhausted governor changes nothing.
func (g *Governor) Charge() (exhausted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.exhausted {
		return true
	}
	g.ticks++
	g.elapsed += g.nominal
	if g.ceiling > 0 && g.elapsed >= g.ceiling {
		g.exhausted = true
	}
	return g.exhausted
}

// Exhausted reports whether the ceiling has been reached.
func (g *Governor) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exhausted
}

// Elapsed returns the charged time so far.
func (g *Governor) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsed
}

// Remaining returns the time left before the ceiling, never negative.
func (g *Governor) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ceiling <= 0 {
		return 0
	}
	return max(g.ceiling-g.elapsed, 0)
}

// Ceiling returns the configured ceiling.
func (g *Governor) Ceiling() time.Duration { return g.ceiling }

// Ticks returns how many ticks have been charged.
func (g *Governor) Ticks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ticks
}
