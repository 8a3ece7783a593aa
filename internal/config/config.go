// Package config provides the configuration schema, loader, and provider registry
// for the adroast commentary server and its rate-limiting proxy.
package config

import (
	"time"

	"github.com/MrWong99/adroast/internal/session"
)

// LogLevel controls log verbosity for the adroast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CaptureSource selects where frames come from.
type CaptureSource string

const (
	// CaptureMailbox receives frames pushed by a publisher (e.g. POST /api/frame).
	CaptureMailbox CaptureSource = "mailbox"

	// CaptureDir replays still images from a directory.
	CaptureDir CaptureSource = "dir"
)

// IsValid reports whether c is a recognised capture source.
func (c CaptureSource) IsValid() bool {
	return c == CaptureMailbox || c == CaptureDir
}

// Config is the root configuration structure for adroast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Capture    CaptureConfig    `yaml:"capture"`
	Loop       LoopConfig       `yaml:"loop"`
	Presenter  PresenterConfig  `yaml:"presenter"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Proxy      ProxyConfig      `yaml:"proxy"`
}

// ServerConfig holds network and logging settings for the adroast server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the model backends.
type ProvidersConfig struct {
	Vision VisionConfig `yaml:"vision"`
}

// VisionConfig is the primary vision backend plus an ordered failover list.
type VisionConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary fails or its circuit is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Instruction replaces the built-in commentator persona when non-empty.
	Instruction string `yaml:"instruction"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Point it at the
	// adroast proxy to put the rate limit in front of the model.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific image-capable model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// CaptureConfig selects and tunes the frame source.
type CaptureConfig struct {
	Source CaptureSource `yaml:"source"`

	// Path is the image directory when Source is "dir".
	Path string `yaml:"path"`

	// FPS is the replay rate when Source is "dir". Default: 0.5.
	FPS float64 `yaml:"fps"`
}

// LoopConfig tunes the live analysis loop.
type LoopConfig struct {
	// TickInterval is the analysis cadence, within [3s, 6s]. Default: 4s.
	TickInterval time.Duration `yaml:"tick_interval"`

	// SessionBudget caps the total watch time of one run. Default: 20m.
	SessionBudget time.Duration `yaml:"session_budget"`

	// MaxContextRunes bounds the rolling context sent with each frame. Default: 480.
	MaxContextRunes int `yaml:"max_context_runes"`

	// Segmentation selects the ad boundary policy. Default: "model".
	Segmentation session.PolicyName `yaml:"segmentation"`
}

// PresenterConfig tunes how commentary reaches the screen.
type PresenterConfig struct {
	ReleaseInterval time.Duration `yaml:"release_interval"`
	Expiry          time.Duration `yaml:"expiry"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxVisible      int           `yaml:"max_visible"`
}

// ResilienceConfig tunes the per-provider circuit breakers.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProxyConfig configures the adroast-proxy binary.
type ProxyConfig struct {
	// ListenAddr is where the proxy accepts calls. Default: ":8090".
	ListenAddr string `yaml:"listen_addr"`

	// Upstream is the model API base URL (e.g., "https://api.openai.com").
	Upstream string `yaml:"upstream"`

	// APIKey is injected as a bearer token into every forwarded request so
	// clients never hold the real key.
	APIKey string `yaml:"api_key"`

	// Window is the length of one fixed rate-limit window. Default: 1m.
	Window time.Duration `yaml:"window"`

	// MaxCalls is the number of calls a client may make per window. Default: 15.
	MaxCalls int `yaml:"max_calls"`
}
