// Package loop implements the live analysis loop: a single timer that
// captures a frame, asks a vision model about it, folds the answer into the
// running ad segment and queues its commentary for presentation.
//
// At most one analysis is in flight. A tick that finds the previous analysis
// still running is skipped, not queued. Stopping the loop discards any result
// that arrives afterwards.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/adroast/internal/commentary"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/internal/session"
	"github.com/MrWong99/adroast/pkg/frame"
	"github.com/MrWong99/adroast/pkg/provider/vision"
)

const (
	// DefaultInterval is the analysis cadence.
	DefaultInterval = 4 * time.Second

	// MinInterval and MaxInterval bound the configurable cadence.
	MinInterval = 3 * time.Second
	MaxInterval = 6 * time.Second

	// DefaultBudget is the cumulative analysis time allowed per run.
	DefaultBudget = 20 * time.Minute
)

// OutcomeStopped is returned by [Loop.Tick] when the loop is not running.
const OutcomeStopped = "stopped"

var (
	// ErrBudgetExhausted is returned by [Loop.Start] once the session-time
	// budget has been used up. It stays exhausted for the process lifetime.
	ErrBudgetExhausted = errors.New("loop: session budget exhausted")

	// ErrNoSource is returned by [Loop.Start] when the frame source is not
	// active.
	ErrNoSource = errors.New("loop: frame source not active")
)

// State is the externally visible loop state.
type State string

const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateLimitReached State = "limit_reached"
)

// Config wires a [Loop] to its collaborators.
type Config struct {
	// Source supplies frames. Required.
	Source frame.Source

	// Analyzer describes frames. Required.
	Analyzer vision.Analyzer

	// Presenter receives commentary. Required.
	Presenter *commentary.Scheduler

	// Ledger receives finalized segments. Default: a new ledger.
	Ledger *session.Ledger

	// Policy decides segment boundaries. Default: [session.ModelSignal].
	Policy session.Policy

	// Interval is the tick interval and the per-analysis timeout. Values
	// outside [MinInterval, MaxInterval] are clamped. Default: 4s.
	Interval time.Duration

	// Budget is the session-time ceiling; each tick is charged Interval.
	// Default: 20m.
	Budget time.Duration

	// MaxContextRunes bounds the rolling context. Default:
	// [session.DefaultContextRunes].
	MaxContextRunes int

	// Instruction overrides the analyzer's system instruction.
	Instruction string

	// Manual disables the internal ticker; the owner calls [Loop.Tick].
	Manual bool

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Metrics receives loop metrics. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Status is a point-in-time view of the loop.
type Status struct {
	State     State           `json:"state"`
	Notice    *Notice         `json:"notice,omitempty"`
	Elapsed   time.Duration   `json:"budgetElapsed"`
	Remaining time.Duration   `json:"budgetRemaining"`
	Budget    time.Duration   `json:"budget"`
	RetryAt   time.Time       `json:"retryAt,omitzero"`
	Segment   session.Segment `json:"segment"`
	Context   string          `json:"rollingContext"`
	Interval  time.Duration   `json:"interval"`
}

// Loop is the live analysis loop. Create one with [New]; a Loop can be
// started and stopped repeatedly until its budget runs out.
//
// All methods are safe for concurrent use.
type Loop struct {
	cfg      Config
	governor *session.Governor
	segments *session.Segmenter
	busy     *semaphore.Weighted
	events   broadcaster

	mu       sync.Mutex
	running  bool
	gen      uint64
	state    State
	runCtx   context.Context
	cancel   context.CancelFunc
	rolling  string
	retryAt  time.Time
	notice   *Notice
	inFlight sync.WaitGroup
}

// New validates cfg and returns an idle [Loop].
func New(cfg Config) (*Loop, error) {
	if cfg.Source == nil {
		return nil, errors.New("loop: source must not be nil")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("loop: analyzer must not be nil")
	}
	if cfg.Presenter == nil {
		return nil, errors.New("loop: presenter must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.Interval = min(max(cfg.Interval, MinInterval), MaxInterval)
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.MaxContextRunes <= 0 {
		cfg.MaxContextRunes = session.DefaultContextRunes
	}
	if cfg.Ledger == nil {
		cfg.Ledger = session.NewLedger()
	}
	if cfg.Policy == nil {
		cfg.Policy = session.ModelSignal{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	return &Loop{
		cfg:      cfg,
		governor: session.NewGovernor(cfg.Budget, cfg.Interval),
		segments: session.NewSegmenter(cfg.Policy, cfg.Ledger, cfg.Now()),
		busy:     semaphore.NewWeighted(1),
		state:    StateIdle,
	}, nil
}

// Start begins ticking. ctx bounds the run: cancelling it stops the loop as
// if [Loop.Stop] had been called. Starting a running loop is a no-op.
//
// Start fails with [ErrBudgetExhausted] once the budget is spent and with
// [ErrNoSource] when the frame source is inactive.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}
	if l.governor.Exhausted() {
		return ErrBudgetExhausted
	}
	if !l.cfg.Source.Active() {
		return ErrNoSource
	}

	now := l.cfg.Now()
	l.running = true
	l.gen++
	l.state = StateRunning
	l.rolling = ""
	l.retryAt = time.Time{}
	l.segments.Reset(now)
	l.runCtx, l.cancel = context.WithCancel(ctx)

	gen := l.gen
	context.AfterFunc(l.runCtx, func() { l.stopGen(gen) })

	l.cfg.Presenter.Start(l.runCtx)
	if !l.cfg.Manual {
		go l.run(l.runCtx, gen)
	}

	l.cfg.Metrics.ActiveLoops.Add(l.runCtx, 1)
	l.events.publish(Event{Type: EventState, State: l.state})
	slog.Info("analysis loop started",
		"interval", l.cfg.Interval,
		"budget_remaining", l.governor.Remaining(),
	)
	return nil
}

func (l *Loop) run(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go l.tick(gen)
		}
	}
}

// Stop halts the loop, clears the presentation and finalizes the running
// segment if it has any commentary or theory. An analysis still in flight is
// cancelled and its result, should one arrive, is discarded. Stopping a
// stopped loop does nothing.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(StateIdle)
}

func (l *Loop) stopGen(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen {
		l.stopLocked(StateIdle)
	}
}

func (l *Loop) stopLocked(next State) {
	if !l.running {
		return
	}
	now := l.cfg.Now()
	l.running = false
	l.gen++
	l.state = next
	l.retryAt = time.Time{}
	l.cancel()

	l.cfg.Presenter.Stop()

	ctx := context.Background()
	if rec, ok := l.segments.Flush(now); ok {
		l.cfg.Metrics.RecordSessionFinalized(ctx, "stop")
		l.events.publish(Event{Type: EventSession, State: l.state, Session: &rec})
		slog.Info("segment finalized on stop", "id", rec.ID, "brand", rec.Brand)
	}
	l.cfg.Metrics.ActiveLoops.Add(ctx, -1)
	l.events.publish(Event{Type: EventState, State: l.state})
	slog.Info("analysis loop stopped", "state", l.state, "budget_elapsed", l.governor.Elapsed())
}

// Tick runs one analysis tick and returns its outcome, one of the
// observe.Outcome* values or [OutcomeStopped]. It blocks until the analysis
// finishes; with [Config.Manual] unset the internal ticker calls it.
func (l *Loop) Tick() string {
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	return l.tick(gen)
}

func (l *Loop) tick(gen uint64) string {
	l.mu.Lock()
	if !l.running || l.gen != gen {
		l.mu.Unlock()
		return OutcomeStopped
	}
	runCtx := l.runCtx
	now := l.cfg.Now()

	if l.governor.Charge() {
		l.notice = limitNotice(now, l.governor.Ceiling())
		l.events.publish(Event{Type: EventNotice, State: StateLimitReached, Notice: l.notice})
		l.stopLocked(StateLimitReached)
		l.mu.Unlock()
		l.cfg.Metrics.RecordTick(runCtx, observe.OutcomeBudget)
		slog.Warn("session budget exhausted", "budget", l.governor.Ceiling())
		return observe.OutcomeBudget
	}
	if now.Before(l.retryAt) {
		l.mu.Unlock()
		l.cfg.Metrics.RecordTick(runCtx, observe.OutcomeRateLimited)
		return observe.OutcomeRateLimited
	}
	if !l.busy.TryAcquire(1) {
		l.mu.Unlock()
		l.cfg.Metrics.RecordTick(runCtx, observe.OutcomeSkippedBusy)
		slog.Debug("tick skipped, analysis still in flight")
		return observe.OutcomeSkippedBusy
	}
	rolling := l.rolling
	l.inFlight.Add(1)
	l.mu.Unlock()

	defer l.inFlight.Done()
	defer l.busy.Release(1)

	outcome := l.analyze(runCtx, gen, rolling, now)
	l.cfg.Metrics.RecordTick(runCtx, outcome)
	l.cfg.Metrics.TickDuration.Record(runCtx, l.cfg.Now().Sub(now).Seconds())
	return outcome
}

func (l *Loop) analyze(ctx context.Context, gen uint64, rolling string, started time.Time) string {
	ctx, span := observe.StartSpan(ctx, "loop.tick")
	defer span.End()
	log := observe.Logger(ctx)

	f, err := l.cfg.Source.Capture(ctx)
	if err != nil || f == nil {
		if err != nil && !errors.Is(err, frame.ErrUnavailable) && ctx.Err() == nil {
			log.Warn("frame capture failed", "err", err)
		}
		span.SetAttributes(attribute.String("outcome", observe.OutcomeNoFrame))
		return observe.OutcomeNoFrame
	}

	actx, cancel := context.WithTimeout(ctx, l.cfg.Interval)
	defer cancel()
	astart := time.Now()
	res, err := l.cfg.Analyzer.Analyze(actx, vision.Request{
		Frame:       f,
		Context:     rolling,
		Instruction: l.cfg.Instruction,
	})
	l.cfg.Metrics.AnalyzeDuration.Record(ctx, time.Since(astart).Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running || l.gen != gen {
		span.SetAttributes(attribute.String("outcome", observe.OutcomeDiscarded))
		log.Debug("discarding analysis result after stop")
		return observe.OutcomeDiscarded
	}

	now := l.cfg.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rl, ok := vision.AsRateLimit(err); ok {
			if rl.RetryAfter > 0 {
				l.retryAt = now.Add(rl.RetryAfter)
			}
			l.setNoticeLocked(rateLimitNotice(now, rl.RetryAfter))
			log.Warn("vision analyzer rate limited", "retry_after", rl.RetryAfter)
			return observe.OutcomeRateLimited
		}
		l.setNoticeLocked(errorNotice(now))
		log.Warn("vision analysis failed", "err", err)
		return observe.OutcomeFailed
	}

	obs := res.Observation
	if rec, closed := l.segments.Observe(obs, now); closed {
		l.cfg.Metrics.RecordSessionFinalized(ctx, "boundary")
		l.events.publish(Event{Type: EventSession, State: l.state, Session: &rec})
		log.Info("ad segment finalized", "id", rec.ID, "brand", rec.Brand, "one_liner", rec.OneLiner)
	}
	l.cfg.Presenter.Enqueue(obs.Commentary)

	cur := l.segments.Current()
	last := strings.TrimSpace(obs.Commentary)
	if last == "" {
		last = cur.LastCommentary()
	}
	l.rolling = session.RollingContext(cur.Theory, last, l.cfg.MaxContextRunes)

	outcome := observe.OutcomeAnalyzed
	if res.Kind == vision.KindDegraded {
		outcome = observe.OutcomeDegraded
		log.Debug("vision reply degraded to plain commentary", "raw_len", len(res.Raw))
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.String("brand_guess", obs.BrandGuess),
		attribute.Bool("boundary", obs.IsBoundary),
	)
	log.Debug("tick analyzed",
		"latency", now.Sub(started),
		"confidence", obs.Confidence,
		"brand_guess", obs.BrandGuess,
	)
	return outcome
}

func (l *Loop) setNoticeLocked(n *Notice) {
	l.notice = n
	l.events.publish(Event{Type: EventNotice, State: l.state, Notice: n})
}

// DismissNotice clears the current notice.
func (l *Loop) DismissNotice() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.notice == nil {
		return
	}
	l.notice = nil
	l.events.publish(Event{Type: EventNotice, State: l.state})
}

// Status returns a snapshot of the loop.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{
		State:     l.state,
		Elapsed:   l.governor.Elapsed(),
		Remaining: l.governor.Remaining(),
		Budget:    l.governor.Ceiling(),
		RetryAt:   l.retryAt,
		Segment:   l.segments.Current(),
		Context:   l.rolling,
		Interval:  l.cfg.Interval,
	}
	if l.notice != nil {
		n := *l.notice
		st.Notice = &n
	}
	return st
}

// State returns the current loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Ledger returns the ledger finalized segments are written to.
func (l *Loop) Ledger() *session.Ledger { return l.cfg.Ledger }

// Presenter returns the commentary scheduler.
func (l *Loop) Presenter() *commentary.Scheduler { return l.cfg.Presenter }

// Subscribe streams loop events until the returned function is called.
func (l *Loop) Subscribe(buffer int) (<-chan Event, func()) {
	return l.events.subscribe(buffer)
}

// Wait blocks until no analysis is in flight or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loop: wait for in-flight analysis: %w", ctx.Err())
	}
}
