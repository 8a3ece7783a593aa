package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/adroast/internal/config"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/internal/resilience"
)

// BuildProviders instantiates the vision chain and the frame source named in
// cfg using reg. The primary vision backend and each fallback get their own
// circuit breaker; a fallback that cannot be constructed is skipped with a
// warning, a primary that cannot be constructed is fatal.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	vc := cfg.Providers.Vision
	if vc.Name == "" {
		return nil, errors.New("app: providers.vision.name is required")
	}
	primary, err := reg.CreateVision(vc.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("app: create vision provider %q: %w", vc.Name, err)
	}
	slog.Info("provider created", "kind", "vision", "name", vc.Name, "model", vc.Model)

	fb := resilience.NewVisionFallback(primary, vc.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Resilience.MaxFailures,
			ResetTimeout: cfg.Resilience.ResetTimeout,
		},
	}, metrics)
	for _, entry := range vc.Fallbacks {
		a, err := reg.CreateVision(entry)
		if err != nil {
			slog.Warn("skipping vision fallback", "name", entry.Name, "err", err)
			continue
		}
		fb.AddFallback(entry.Name, a)
		slog.Info("provider created", "kind", "vision-fallback", "name", entry.Name, "model", entry.Model)
	}

	src, err := reg.CreateSource(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("app: create frame source %q: %w", cfg.Capture.Source, err)
	}
	slog.Info("frame source created", "source", cfg.Capture.Source, "path", cfg.Capture.Path)

	return &Providers{Vision: fb, Source: src}, nil
}
