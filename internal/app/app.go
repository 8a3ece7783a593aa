// Package app wires all adroast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the viewer API until its context is cancelled, and
// Shutdown stops the analysis loop and releases the frame source.
//
// For testing, inject mock providers through [Providers] and use
// [WithManualTiming] so ticks and bubble releases are driven by the test.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/adroast/internal/commentary"
	"github.com/MrWong99/adroast/internal/config"
	"github.com/MrWong99/adroast/internal/health"
	"github.com/MrWong99/adroast/internal/loop"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/internal/resilience"
	"github.com/MrWong99/adroast/internal/session"
	"github.com/MrWong99/adroast/internal/web"
	"github.com/MrWong99/adroast/pkg/frame"
	"github.com/MrWong99/adroast/pkg/provider/vision"
)

// Providers holds the two external boundaries of the loop. Populated by
// main.go via [BuildProviders].
type Providers struct {
	Vision vision.Analyzer
	Source frame.Source
}

// statusReporter is implemented by analyzers that expose per-backend health,
// such as [resilience.VisionFallback].
type statusReporter interface {
	Status() []resilience.EntryStatus
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	manual    bool
	now       func() time.Time

	presenter *commentary.Scheduler
	loop      *loop.Loop
	viewer    *web.Server
	health    *health.Handler
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithManualTiming disables the loop's ticker and the presenter's timers.
// The caller drives them through [App.Loop].
func WithManualTiming() Option {
	return func(a *App) { a.manual = true }
}

// WithClock overrides the clock shared by the loop and the presenter.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together. ctx bounds every
// analysis run started through the viewer API and should live as long as the
// process.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Vision == nil {
		return nil, errors.New("app: a vision provider is required")
	}
	if providers.Source == nil {
		return nil, errors.New("app: a frame source is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	policy, err := session.NewPolicy(cfg.Loop.Segmentation)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a.presenter = commentary.New(commentary.Config{
		ReleaseInterval: cfg.Presenter.ReleaseInterval,
		Expiry:          cfg.Presenter.Expiry,
		SweepInterval:   cfg.Presenter.SweepInterval,
		MaxVisible:      cfg.Presenter.MaxVisible,
		Manual:          a.manual,
		Now:             a.now,
		Metrics:         a.metrics,
	})

	a.loop, err = loop.New(loop.Config{
		Source:          providers.Source,
		Analyzer:        providers.Vision,
		Presenter:       a.presenter,
		Ledger:          session.NewLedger(),
		Policy:          policy,
		Interval:        cfg.Loop.TickInterval,
		Budget:          cfg.Loop.SessionBudget,
		MaxContextRunes: cfg.Loop.MaxContextRunes,
		Instruction:     cfg.Providers.Vision.Instruction,
		Manual:          a.manual,
		Now:             a.now,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	webOpts := []web.Option{web.WithMetrics(a.metrics), web.WithClock(a.now)}
	if pub, ok := providers.Source.(web.FramePublisher); ok {
		webOpts = append(webOpts, web.WithFramePublisher(pub))
	}
	a.viewer = web.New(ctx, a.loop, webOpts...)

	checkers := []health.Checker{health.FrameSource(providers.Source)}
	if sr, ok := providers.Vision.(statusReporter); ok {
		checkers = append(checkers, health.Providers(sr.Status))
	}
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.viewer.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.handler = observe.Middleware(a.metrics)(mux)

	if c, ok := providers.Source.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	return a, nil
}

// Loop returns the analysis loop.
func (a *App) Loop() *loop.Loop { return a.loop }

// Handler returns the HTTP handler serving the viewer API, health probes and
// /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP on cfg.Server.ListenAddr and blocks until ctx is cancelled
// or the listener fails. Cancelling ctx shuts the server down gracefully;
// that path returns nil.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve %s: %w", srv.Addr, err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("viewer api listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// Shutdown stops the loop, waits for an in-flight analysis to settle and
// runs the closers. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.loop.Stop()
		if err := a.loop.Wait(ctx); err != nil {
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete", "sessions", a.loop.Ledger().Len())
	})
	return shutdownErr
}
