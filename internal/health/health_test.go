package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/adroast/internal/resilience"
	framemock "github.com/MrWong99/adroast/pkg/frame/mock"
)

func serve(t *testing.T, h *Handler, path string, ctx context.Context) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "frames", Check: func(context.Context) error { return errors.New("x") }})
	code, rep := serve(t, h, "/healthz", context.Background())
	if code != http.StatusOK || !rep.Ready {
		t.Errorf("healthz = %d %+v", code, rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	pass := func(context.Context) error { return nil }
	tests := []struct {
		name      string
		checkers  []Checker
		wantCode  int
		wantFails map[string]string
	}{
		{name: "no checkers", wantCode: http.StatusOK},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "frames", Check: pass}, {Name: "vision", Check: pass}},
			wantCode: http.StatusOK,
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "frames", Check: func(context.Context) error { return errors.New("frame source inactive") }},
				{Name: "vision", Check: pass},
			},
			wantCode:  http.StatusServiceUnavailable,
			wantFails: map[string]string{"frames": "frame source inactive"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, rep := serve(t, New(tt.checkers...), "/readyz", context.Background())
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if rep.Ready != (tt.wantCode == http.StatusOK) {
				t.Errorf("ready = %v", rep.Ready)
			}
			if len(rep.Checks) != len(tt.checkers) {
				t.Fatalf("checks = %v, want %d entries", rep.Checks, len(tt.checkers))
			}
			for name, res := range rep.Checks {
				want, shouldFail := tt.wantFails[name]
				if res.OK == shouldFail || res.Error != want {
					t.Errorf("check %q = %+v", name, res)
				}
				if res.Took == "" {
					t.Errorf("check %q has no duration", name)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, rep := serve(t, h, "/readyz", ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if got := rep.Checks["slow"].Error; got != context.Canceled.Error() {
		t.Errorf("slow check error = %q", got)
	}
}

func TestFrameSource(t *testing.T) {
	t.Parallel()

	if err := FrameSource(&framemock.Source{}).Check(context.Background()); err != nil {
		t.Errorf("active source: %v", err)
	}
	if err := FrameSource(&framemock.Source{Inactive: true}).Check(context.Background()); err == nil {
		t.Error("inactive source: want error")
	}
	if err := FrameSource(nil).Check(context.Background()); err == nil {
		t.Error("nil source: want error")
	}
}

func TestProviders(t *testing.T) {
	t.Parallel()

	soon := time.Date(2026, 10, 19, 20, 0, 30, 0, time.UTC)
	later := soon.Add(time.Minute)
	tests := []struct {
		name    string
		entries []resilience.EntryStatus
		wantErr string
	}{
		{name: "none", wantErr: "no vision provider"},
		{name: "primary closed", entries: []resilience.EntryStatus{{Name: "openai", State: "closed"}}},
		{name: "fallback half-open", entries: []resilience.EntryStatus{
			{Name: "openai", State: "open", OpenUntil: later}, {Name: "ollama", State: "half-open"},
		}},
		{name: "all open", wantErr: "next probe at " + soon.Format(time.RFC3339), entries: []resilience.EntryStatus{
			{Name: "openai", State: "open", OpenUntil: later}, {Name: "ollama", State: "open", OpenUntil: soon},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Providers(func() []resilience.EntryStatus { return tt.entries }).Check(context.Background())
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("Check() = %v, want nil", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Errorf("Check() = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
