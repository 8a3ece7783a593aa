// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// [Checker] concurrently and answers 200 only if all of them pass; the body is
// a [Report] naming each check's outcome.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/adroast/internal/resilience"
	"github.com/MrWong99/adroast/pkg/frame"
)

const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is one entry of a [Report].
type CheckResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Took  string `json:"took"`
}

// Report is the JSON body of both probes.
type Report struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Ready: true})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	status := http.StatusOK
	if !rep.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Run evaluates every checker, each under its own timeout.
func (h *Handler) Run(ctx context.Context) Report {
	rep := Report{Ready: true, Checks: make(map[string]CheckResult, len(h.checkers))}
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{OK: err == nil, Took: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			rep.Ready = rep.Ready && res.OK
			return nil
		})
	}
	_ = g.Wait()
	if len(rep.Checks) == 0 {
		rep.Checks = nil
	}
	return rep
}

// FrameSource fails while the capture feed is detached.
func FrameSource(src frame.Source) Checker {
	return Checker{Name: "frames", Check: func(context.Context) error {
		switch {
		case src == nil:
			return errors.New("no frame source configured")
		case !src.Active():
			return errors.New("frame source inactive")
		}
		return nil
	}}
}

// Providers fails when every vision backend's breaker is open. The error
// names the earliest time one of them will be probed again.
func Providers(status func() []resilience.EntryStatus) Checker {
	return Checker{Name: "vision", Check: func(context.Context) error {
		entries := status()
		if len(entries) == 0 {
			return errors.New("no vision provider configured")
		}
		var next time.Time
		for _, e := range entries {
			if e.State != resilience.StateOpen.String() {
				return nil
			}
			if next.IsZero() || (!e.OpenUntil.IsZero() && e.OpenUntil.Before(next)) {
				next = e.OpenUntil
			}
		}
		if next.IsZero() {
			return fmt.Errorf("all %d vision providers have open circuits", len(entries))
		}
		return fmt.Errorf("all %d vision providers have open circuits, next probe at %s", len(entries), next.Format(time.RFC3339))
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
