package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fingerprint identifies one version of the config file on disk.
type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Reloader re-reads a config file when it changes on disk and passes the
// differences to an apply function. Edits that no longer validate are logged
// and skipped; [Reloader.Active] keeps returning the last good config.
type Reloader struct {
	path  string
	every time.Duration
	apply func(ConfigDiff, *Config)

	mu     sync.Mutex
	active *Config
	seen   fingerprint
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithPollInterval sets how often the file is stat'ed. The default is 5s.
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.every = d
		}
	}
}

// NewReloader loads path once and returns a Reloader seeded with it. apply
// may be nil.
func NewReloader(path string, apply func(ConfigDiff, *Config), opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{path: path, every: 5 * time.Second, apply: apply}
	for _, opt := range opts {
		opt(r)
	}
	cfg, fp, err := r.read()
	if err != nil {
		return nil, fmt.Errorf("config: reloader: %w", err)
	}
	r.active, r.seen = cfg, fp
	return r, nil
}

// Active returns the most recent config that loaded and validated.
func (r *Reloader) Active() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Run polls the file until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config: reload skipped", "path", r.path, "err", err)
			}
		}
	}
}

// Reload checks the file once. It returns the applied diff, which is empty
// when the file is unchanged. An error leaves the active config untouched.
func (r *Reloader) Reload() (ConfigDiff, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return ConfigDiff{}, err
	}

	r.mu.Lock()
	prev := r.seen
	r.mu.Unlock()
	if info.ModTime().Equal(prev.modTime) && info.Size() == prev.size {
		return ConfigDiff{}, nil
	}

	cfg, fp, err := r.read()
	if err != nil {
		return ConfigDiff{}, err
	}

	r.mu.Lock()
	if fp.sum == r.seen.sum {
		r.seen = fp
		r.mu.Unlock()
		return ConfigDiff{}, nil
	}
	old := r.active
	r.active, r.seen = cfg, fp
	r.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		return d, nil
	}
	slog.Info("config: reloaded", "path", r.path, "log_level_changed", d.LogLevelChanged, "restart_required", d.RestartRequired)
	if r.apply != nil {
		r.apply(d, cfg)
	}
	return d, nil
}

func (r *Reloader) read() (*Config, fingerprint, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
