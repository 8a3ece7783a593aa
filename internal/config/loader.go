package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/adroast/internal/commentary"
	"github.com/MrWong99/adroast/internal/loop"
	"github.com/MrWong99/adroast/internal/session"
)

// Defaults not owned by another package.
const (
	DefaultListenAddr      = ":8080"
	DefaultProxyListenAddr = ":8090"
	DefaultProxyWindow     = time.Minute
	DefaultProxyMaxCalls   = 15
	DefaultDirFPS          = 0.5
	DefaultMaxFailures     = 3
	DefaultResetTimeout    = 30 * time.Second
)

// ValidProviderNames lists known vision provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is [LoadFromReader] over an in-memory document.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyDefaults fills every zero-valued knob with its default. Explicit values
// are left alone, including out-of-range ones, so that [Validate] can report
// them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Capture.Source == "" {
		cfg.Capture.Source = CaptureMailbox
	}
	if cfg.Capture.Source == CaptureDir && cfg.Capture.FPS == 0 {
		cfg.Capture.FPS = DefaultDirFPS
	}

	if cfg.Loop.TickInterval == 0 {
		cfg.Loop.TickInterval = loop.DefaultInterval
	}
	if cfg.Loop.SessionBudget == 0 {
		cfg.Loop.SessionBudget = loop.DefaultBudget
	}
	if cfg.Loop.MaxContextRunes == 0 {
		cfg.Loop.MaxContextRunes = session.DefaultContextRunes
	}
	if cfg.Loop.Segmentation == "" {
		cfg.Loop.Segmentation = session.PolicyModel
	}

	if cfg.Presenter.ReleaseInterval == 0 {
		cfg.Presenter.ReleaseInterval = commentary.DefaultReleaseInterval
	}
	if cfg.Presenter.Expiry == 0 {
		cfg.Presenter.Expiry = commentary.DefaultExpiry
	}
	if cfg.Presenter.SweepInterval == 0 {
		cfg.Presenter.SweepInterval = commentary.DefaultSweepInterval
	}
	if cfg.Presenter.MaxVisible == 0 {
		cfg.Presenter.MaxVisible = commentary.DefaultMaxVisible
	}

	if cfg.Resilience.MaxFailures == 0 {
		cfg.Resilience.MaxFailures = DefaultMaxFailures
	}
	if cfg.Resilience.ResetTimeout == 0 {
		cfg.Resilience.ResetTimeout = DefaultResetTimeout
	}

	if cfg.Proxy.ListenAddr == "" {
		cfg.Proxy.ListenAddr = DefaultProxyListenAddr
	}
	if cfg.Proxy.Window == 0 {
		cfg.Proxy.Window = DefaultProxyWindow
	}
	if cfg.Proxy.MaxCalls == 0 {
		cfg.Proxy.MaxCalls = DefaultProxyMaxCalls
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	vc := cfg.Providers.Vision
	if vc.Name == "" {
		if len(vc.Fallbacks) > 0 {
			errs = append(errs, errors.New("providers.vision.fallbacks set but providers.vision.name is empty"))
		} else {
			slog.Warn("no vision provider configured; the loop cannot be started")
		}
	}
	entries := append([]ProviderEntry{vc.ProviderEntry}, vc.Fallbacks...)
	for i, e := range entries {
		prefix := "providers.vision"
		if i > 0 {
			prefix = fmt.Sprintf("providers.vision.fallbacks[%d]", i-1)
		}
		if e.Name == "" {
			if i > 0 {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			}
			continue
		}
		validateProviderName(e.Name)
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if e.BaseURL != "" {
			if _, err := url.ParseRequestURI(e.BaseURL); err != nil {
				errs = append(errs, fmt.Errorf("%s.base_url %q is not a valid URL", prefix, e.BaseURL))
			}
		}
	}

	// Capture
	if !cfg.Capture.Source.IsValid() {
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: mailbox, dir", cfg.Capture.Source))
	}
	if cfg.Capture.Source == CaptureDir && cfg.Capture.Path == "" {
		errs = append(errs, errors.New("capture.path is required when capture.source is dir"))
	}
	if cfg.Capture.FPS < 0 {
		errs = append(errs, fmt.Errorf("capture.fps %.2f must not be negative", cfg.Capture.FPS))
	}

	// Loop
	if ti := cfg.Loop.TickInterval; ti < loop.MinInterval || ti > loop.MaxInterval {
		errs = append(errs, fmt.Errorf("loop.tick_interval %s is out of range [%s, %s]", ti, loop.MinInterval, loop.MaxInterval))
	}
	if cfg.Loop.SessionBudget < 0 {
		errs = append(errs, fmt.Errorf("loop.session_budget %s must not be negative", cfg.Loop.SessionBudget))
	} else if cfg.Loop.SessionBudget > 0 && cfg.Loop.SessionBudget < cfg.Loop.TickInterval {
		slog.Warn("loop.session_budget is shorter than one tick; the first tick will end the run",
			"session_budget", cfg.Loop.SessionBudget, "tick_interval", cfg.Loop.TickInterval)
	}
	if cfg.Loop.MaxContextRunes < 0 {
		errs = append(errs, fmt.Errorf("loop.max_context_runes %d must not be negative", cfg.Loop.MaxContextRunes))
	}
	if !cfg.Loop.Segmentation.IsValid() {
		errs = append(errs, fmt.Errorf("loop.segmentation %q is invalid; valid values: model, brand, off", cfg.Loop.Segmentation))
	}

	// Presenter
	p := cfg.Presenter
	if p.ReleaseInterval < 0 || p.Expiry < 0 || p.SweepInterval < 0 {
		errs = append(errs, errors.New("presenter durations must not be negative"))
	}
	if p.MaxVisible < 0 {
		errs = append(errs, fmt.Errorf("presenter.max_visible %d must not be negative", p.MaxVisible))
	}
	if p.Expiry > 0 && p.ReleaseInterval > p.Expiry {
		slog.Warn("presenter.expiry is shorter than release_interval; at most one bubble will be visible",
			"expiry", p.Expiry, "release_interval", p.ReleaseInterval)
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Proxy
	if cfg.Proxy.Upstream != "" {
		if _, err := url.ParseRequestURI(cfg.Proxy.Upstream); err != nil {
			errs = append(errs, fmt.Errorf("proxy.upstream %q is not a valid URL", cfg.Proxy.Upstream))
		}
	}
	if cfg.Proxy.Window < 0 || cfg.Proxy.MaxCalls < 0 {
		errs = append(errs, errors.New("proxy.window and proxy.max_calls must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown vision provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
