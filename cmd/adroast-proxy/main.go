// Command adroast-proxy is the rate-limiting gateway between adroast and the
// model API. Point providers.vision.base_url at it so the server-side API key
// never leaves this process and no client can exceed the call budget.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/adroast/internal/config"
	"github.com/MrWong99/adroast/internal/health"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/internal/proxy"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adroast-proxy: %v\n", err)
		return 1
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	if cfg.Proxy.Upstream == "" {
		slog.Error("proxy.upstream is required")
		return 1
	}
	apiKey := cfg.Proxy.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ADROAST_UPSTREAM_API_KEY")
	}

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "adroast-proxy",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer observe.Shutdown(shutdownTelemetry, 5*time.Second)

	h, err := proxy.New(proxy.Config{
		Upstream: cfg.Proxy.Upstream,
		APIKey:   apiKey,
		Window:   cfg.Proxy.Window,
		MaxCalls: cfg.Proxy.MaxCalls,
	})
	if err != nil {
		slog.Error("failed to create proxy", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	health.New().Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.Proxy.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("proxy listening",
			"addr", srv.Addr,
			"upstream", cfg.Proxy.Upstream,
			"window", cfg.Proxy.Window,
			"max_calls", cfg.Proxy.MaxCalls,
			"api_key_set", apiKey != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("proxy stopped", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
