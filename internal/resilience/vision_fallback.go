package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// ErrAllFailed is returned when every backend in a [VisionFallback] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template applied to every backend.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// EntryStatus is a point-in-time view of one backend.
type EntryStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	OpenUntil time.Time `json:"open_until,omitzero"`
}

type backend struct {
	name     string
	analyzer vision.Analyzer
	breaker  *CircuitBreaker
}

// VisionFallback implements [vision.Analyzer] over an ordered list of
// backends, each behind its own [CircuitBreaker]. A frame goes to one backend
// at a time; the next is tried only when the previous failed or is open.
//
// A backend that answers with a [vision.RateLimitError] carrying a RetryAfter
// is held open for exactly that long, so the next backend serves until the
// reset. If every backend fails the returned error still unwraps to each
// cause, which keeps the rate-limit error visible to the loop.
//
// Backends must be added before the first Analyze call.
type VisionFallback struct {
	cfg      FallbackConfig
	backends []backend
	metrics  *observe.Metrics
}

var _ vision.Analyzer = (*VisionFallback)(nil)

// NewVisionFallback starts a chain with primary. A nil metrics uses
// [observe.DefaultMetrics].
func NewVisionFallback(primary vision.Analyzer, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *VisionFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if cfg.CircuitBreaker.Classify == nil {
		cfg.CircuitBreaker.Classify = classifyVision
	}
	f := &VisionFallback{cfg: cfg, metrics: metrics}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends a backend to the end of the chain.
func (f *VisionFallback) AddFallback(name string, a vision.Analyzer) {
	bc := f.cfg.CircuitBreaker
	bc.Name = name
	f.backends = append(f.backends, backend{name: name, analyzer: a, breaker: NewCircuitBreaker(bc)})
}

// Status reports every backend in failover order.
func (f *VisionFallback) Status() []EntryStatus {
	out := make([]EntryStatus, len(f.backends))
	for i, b := range f.backends {
		out[i] = EntryStatus{Name: b.name, State: b.breaker.State().String(), OpenUntil: b.breaker.OpenUntil()}
	}
	return out
}

// Analyze sends req to the first backend that accepts it.
func (f *VisionFallback) Analyze(ctx context.Context, req vision.Request) (vision.Result, error) {
	var errs []error
	for _, b := range f.backends {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var res vision.Result
		err := b.breaker.Execute(func() error {
			var callErr error
			res, callErr = b.analyzer.Analyze(ctx, req)
			f.record(ctx, b.name, res, callErr)
			return callErr
		})
		if err == nil {
			return res, nil
		}
		errs = append(errs, fmt.Errorf("vision %s: %w", b.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("vision backend skipped, circuit open", "provider", b.name)
			continue
		}
		slog.Warn("vision backend failed", "provider", b.name, "err", err)
	}
	return vision.Result{}, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (f *VisionFallback) record(ctx context.Context, name string, res vision.Result, err error) {
	status := res.Kind.String()
	switch {
	case err == nil:
	case isRateLimit(err):
		status = "rate_limited"
	default:
		status = "error"
	}
	f.metrics.RecordProviderRequest(ctx, name, "vision", status)
	if err != nil && !errors.Is(err, context.Canceled) {
		f.metrics.RecordProviderError(ctx, name, "vision")
	}
}

func isRateLimit(err error) bool {
	_, ok := vision.AsRateLimit(err)
	return ok
}

// classifyVision holds a throttled backend open until its advertised reset.
func classifyVision(err error) (Outcome, time.Duration) {
	if rl, ok := vision.AsRateLimit(err); ok {
		return OutcomeFailure, rl.RetryAfter
	}
	return Classify(err)
}
