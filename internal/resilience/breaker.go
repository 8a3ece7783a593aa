// Package resilience keeps the analysis loop talking to a vision backend when
// one of them misbehaves.
//
// A [CircuitBreaker] sits in front of each backend. Ordinary failures open it
// after a threshold; a failure whose classifier returns a hold (a rate-limit
// reply with a reset time) opens it at once for exactly that long.
// [VisionFallback] walks the breakers in order and is itself a
// vision.Analyzer.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned instead of calling a backend whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Outcome is how a finished call counts towards the breaker.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeIgnored calls say nothing about the backend, e.g. the caller
	// cancelled.
	OutcomeIgnored
)

// Classifier maps a call's error to an [Outcome]. A positive hold opens the
// breaker for that long regardless of the failure count.
type Classifier func(err error) (outcome Outcome, hold time.Duration)

// Classify is the default [Classifier]: nil succeeds, context.Canceled is
// ignored, anything else is a plain failure.
func Classify(err error) (Outcome, time.Duration) {
	switch {
	case err == nil:
		return OutcomeSuccess, 0
	case errors.Is(err, context.Canceled):
		return OutcomeIgnored, 0
	}
	return OutcomeFailure, 0
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long a threshold trip stays open. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax probe calls must succeed to close again. Default 3.
	HalfOpenMax int

	Classify Classifier
	Now      func() time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
	probing   int
	probesOK  int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Classify == nil {
		cfg.Classify = Classify
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open, then books the result through
// the classifier. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	outcome, hold := cb.cfg.Classify(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	// A probe that outlived its half-open window no longer counts.
	probe = probe && cb.state == StateHalfOpen
	if probe {
		cb.probing--
	}
	switch {
	case outcome == OutcomeIgnored:
	case hold > 0:
		cb.openLocked(hold, "held")
	case outcome == OutcomeSuccess:
		cb.failures = 0
		if probe {
			cb.probesOK++
			if cb.probesOK >= cb.cfg.HalfOpenMax {
				cb.state = StateClosed
				slog.Info("circuit breaker closed", "name", cb.cfg.Name)
			}
		}
	case probe:
		cb.openLocked(cb.cfg.ResetTimeout, "probe failed")
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.openLocked(cb.cfg.ResetTimeout, "threshold")
		}
	}
	return err
}

// admit decides whether a call may go through and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Before(cb.openUntil) {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing, cb.probesOK = 0, 0
		slog.Info("circuit breaker half-open", "name", cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		if cb.probing+cb.probesOK >= cb.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probing++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) openLocked(d time.Duration, reason string) {
	until := cb.cfg.Now().Add(d)
	if cb.state == StateOpen && until.Before(cb.openUntil) {
		return
	}
	cb.state = StateOpen
	cb.openUntil = until
	cb.failures = 0
	slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "reason", reason, "for", d)
}

// State reports the current mode. An open breaker whose hold has run out
// reports half-open; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openUntil) {
		return StateHalfOpen
	}
	return cb.state
}

// OpenUntil is when an open breaker starts probing again. Zero unless open.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.openUntil
}
