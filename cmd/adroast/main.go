// Command adroast watches a live visual feed and roasts the ads on it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/adroast/internal/app"
	"github.com/MrWong99/adroast/internal/config"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/pkg/frame"
	"github.com/MrWong99/adroast/pkg/provider/vision"
	"github.com/MrWong99/adroast/pkg/provider/vision/anyllm"
	oaivision "github.com/MrWong99/adroast/pkg/provider/vision/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "adroast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "adroast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("adroast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "adroast",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer observe.Shutdown(shutdownTelemetry, 5*time.Second)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	registerBuiltinSources(reg)

	providers, err := app.BuildProviders(cfg, reg, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Config reload ─────────────────────────────────────────────────────────
	if *watch {
		r, err := config.NewReloader(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if len(d.RestartRequired) > 0 {
				slog.Warn("config changed, restart adroast to apply", "sections", d.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			go r.Run(ctx)
		}
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in vision factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterVision("openai", func(entry config.ProviderEntry) (vision.Analyzer, error) {
		var opts []oaivision.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaivision.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaivision.WithOrganization(org))
		}
		if detail := optString(entry.Options, "image_detail"); detail != "" {
			opts = append(opts, oaivision.WithImageDetail(detail))
		}
		if n := optInt(entry.Options, "max_tokens"); n > 0 {
			opts = append(opts, oaivision.WithMaxTokens(n))
		}
		if on, ok := optBool(entry.Options, "json_mode"); ok {
			opts = append(opts, oaivision.WithJSONMode(on))
		}
		if !oaivision.SupportsVision(entry.Model) {
			slog.Warn("model may not accept images", "provider", "openai", "model", entry.Model)
		}
		return oaivision.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted backends share the same pattern: optional APIKey +
	// optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterVision(providerName, func(entry config.ProviderEntry) (vision.Analyzer, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterVision("ollama", func(entry config.ProviderEntry) (vision.Analyzer, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	for _, name := range reg.VisionNames() {
		slog.Debug("registered provider", "kind", "vision", "name", name)
	}
}

// registerBuiltinSources wires the frame sources into reg.
func registerBuiltinSources(reg *config.Registry) {
	reg.RegisterSource(config.CaptureMailbox, func(config.CaptureConfig) (frame.Source, error) {
		return frame.NewMailbox(), nil
	})
	reg.RegisterSource(config.CaptureDir, func(cc config.CaptureConfig) (frame.Source, error) {
		return frame.NewDir(cc.Path, frame.WithFPS(cc.FPS))
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	vc := cfg.Providers.Vision
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         adroast - startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Vision", providerLabel(vc.Name, vc.Model))
	for i, fb := range vc.Fallbacks {
		printRow(fmt.Sprintf("Fallback %d", i+1), providerLabel(fb.Name, fb.Model))
	}
	source := string(cfg.Capture.Source)
	if cfg.Capture.Source == config.CaptureDir {
		source += " " + cfg.Capture.Path
	}
	printRow("Capture", source)
	printRow("Tick", cfg.Loop.TickInterval.String())
	printRow("Budget", cfg.Loop.SessionBudget.String())
	printRow("Segmentation", string(cfg.Loop.Segmentation))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML numbers decode as int; float64 is
// accepted for values written with a decimal point.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func optBool(opts map[string]any, key string) (value, ok bool) {
	value, ok = opts[key].(bool)
	return value, ok
}
