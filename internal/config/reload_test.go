package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/adroast/internal/config"
)

const reloadBaseYAML = `
server:
  log_level: info
providers:
  vision:
    name: openai
    model: gpt-4o-mini
loop:
  tick_interval: 4s
`

const reloadEditedYAML = `
server:
  log_level: debug
providers:
  vision:
    name: openai
    model: gpt-4o-mini
loop:
  tick_interval: 5s
`

// writeConfig writes content and moves the mtime forward by step so two
// writes inside one filesystem timestamp tick still look different.
func writeConfig(t *testing.T, path, content string, step int) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	mtime := time.Now().Add(time.Duration(step) * time.Second)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type applyRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	last  *config.Config
}

func (a *applyRecorder) apply(d config.ConfigDiff, cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.diffs = append(a.diffs, d)
	a.last = cfg
}

func (a *applyRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.diffs)
}

func newReloader(t *testing.T, content string, rec *applyRecorder) (*config.Reloader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, content, 0)
	r, err := config.NewReloader(path, rec.apply, config.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	return r, path
}

func TestNewReloader_Errors(t *testing.T) {
	t.Parallel()

	if _, err := config.NewReloader(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing file: expected error")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "server:\n  log_level: bananas\n", 0)
	if _, err := config.NewReloader(path, nil); err == nil {
		t.Error("invalid config: expected error")
	}
}

func TestReloader_AppliesDiff(t *testing.T) {
	t.Parallel()

	rec := &applyRecorder{}
	r, path := newReloader(t, reloadBaseYAML, rec)

	if d, err := r.Reload(); err != nil || d.Changed() {
		t.Fatalf("unchanged file: diff=%+v err=%v", d, err)
	}

	writeConfig(t, path, reloadEditedYAML, 2)
	d, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !slices.Equal(d.RestartRequired, []string{"loop"}) {
		t.Errorf("RestartRequired = %v, want [loop]", d.RestartRequired)
	}
	if rec.count() != 1 {
		t.Fatalf("apply called %d times, want 1", rec.count())
	}
	if got := r.Active().Loop.TickInterval; got != 5*time.Second {
		t.Errorf("active tick interval = %v, want 5s", got)
	}
	if rec.last != r.Active() {
		t.Error("apply did not receive the active config")
	}
}

func TestReloader_KeepsLastGoodConfig(t *testing.T) {
	t.Parallel()

	rec := &applyRecorder{}
	r, path := newReloader(t, reloadBaseYAML, rec)
	before := r.Active()

	writeConfig(t, path, "server:\n  log_level: bananas\n", 2)
	if _, err := r.Reload(); err == nil {
		t.Error("invalid edit: expected error")
	}
	if r.Active() != before {
		t.Error("invalid edit replaced the active config")
	}
	if rec.count() != 0 {
		t.Errorf("apply called %d times on invalid edit", rec.count())
	}
}

func TestReloader_TouchWithoutEdit(t *testing.T) {
	t.Parallel()

	rec := &applyRecorder{}
	r, path := newReloader(t, reloadBaseYAML, rec)

	writeConfig(t, path, reloadBaseYAML, 3)
	if d, err := r.Reload(); err != nil || d.Changed() {
		t.Errorf("touch: diff=%+v err=%v", d, err)
	}
	if rec.count() != 0 {
		t.Errorf("apply called %d times after touch", rec.count())
	}
}

func TestReloader_RunPicksUpEdits(t *testing.T) {
	t.Parallel()

	rec := &applyRecorder{}
	r, path := newReloader(t, reloadBaseYAML, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	writeConfig(t, path, reloadEditedYAML, 2)
	deadline := time.After(5 * time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("edit not picked up")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
