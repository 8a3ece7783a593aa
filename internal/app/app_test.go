package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/adroast/internal/app"
	"github.com/MrWong99/adroast/internal/config"
	"github.com/MrWong99/adroast/internal/loop"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/internal/resilience"
	"github.com/MrWong99/adroast/internal/web"
	"github.com/MrWong99/adroast/pkg/frame"
	framemock "github.com/MrWong99/adroast/pkg/frame/mock"
	"github.com/MrWong99/adroast/pkg/provider/vision"
	visionmock "github.com/MrWong99/adroast/pkg/provider/vision/mock"
)

// testConfig returns a defaulted config with an openai primary.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{Vision: config.VisionConfig{
			ProviderEntry: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func parsedResult(commentary, brand string) vision.Result {
	return vision.Result{Observation: vision.Observation{
		Commentary: commentary,
		Theory:     "something with wheels",
		BrandGuess: brand,
		Confidence: vision.ConfidenceGuessing,
	}}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 9))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	src := &framemock.Source{}
	an := &visionmock.Analyzer{}

	tests := []struct {
		name      string
		providers *app.Providers
		mutate    func(*config.Config)
	}{
		{"nil providers", nil, nil},
		{"no vision", &app.Providers{Source: src}, nil},
		{"no source", &app.Providers{Vision: an}, nil},
		{
			"unknown segmentation",
			&app.Providers{Vision: an, Source: src},
			func(c *config.Config) { c.Loop.Segmentation = "vibes" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			if _, err := app.New(context.Background(), cfg, tt.providers, app.WithMetrics(testMetrics(t))); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApp_EndToEnd(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 20, 0, 0, 0, time.UTC)
	mailbox := frame.NewMailbox()
	an := &visionmock.Analyzer{Results: []vision.Result{
		parsedResult("Someone is driving along a cliff. Bold.", "Acme"),
		{Observation: vision.Observation{
			Commentary:      "New ad, new lies.",
			IsBoundary:      true,
			BoundarySummary: "Acme sells nothing you need",
		}},
	}}

	a, err := app.New(context.Background(), testConfig(),
		&app.Providers{Vision: an, Source: mailbox},
		app.WithMetrics(testMetrics(t)),
		app.WithManualTiming(),
		app.WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	post := func(path string, body []byte) int {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/octet-stream", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/api/frame", pngBytes(t)); code != http.StatusAccepted {
		t.Fatalf("frame upload = %d, want 202", code)
	}
	if code := post("/api/start", nil); code != http.StatusOK {
		t.Fatalf("start = %d, want 200", code)
	}

	for range 2 {
		if got := a.Loop().Tick(); got != "analyzed" {
			t.Fatalf("Tick() = %q, want analyzed", got)
		}
	}
	if b, ok := a.Loop().Presenter().Release(now); !ok || b.Text != "Someone is driving along a cliff." {
		t.Errorf("first bubble = %+v, %v", b, ok)
	}

	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st web.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if len(st.Sessions) != 1 {
		t.Fatalf("sessions = %+v, want one", st.Sessions)
	}
	if got := st.Sessions[0]; got.Brand != "Acme" || got.OneLiner != "Acme sells nothing you need" {
		t.Errorf("session = %+v", got)
	}
	if st.Loop.Segment.Brand != "" || len(st.Loop.Segment.Commentary) != 0 {
		t.Errorf("running segment = %+v, want fresh", st.Loop.Segment)
	}
	if st.Pending != 2 {
		t.Errorf("pending sentences = %d, want 2", st.Pending)
	}

	if got := an.LastRequest().Context; got == "" {
		t.Error("second analysis should carry a rolling context")
	}
}

func TestApp_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	src := &framemock.Source{}
	a, err := app.New(context.Background(), testConfig(),
		&app.Providers{Vision: &visionmock.Analyzer{}, Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithManualTiming(),
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/state", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	src.Inactive = true
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with inactive source = %d, want 503", rec.Code)
	}
}

type closingSource struct {
	framemock.Source
	mu     sync.Mutex
	closed int
}

func (s *closingSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	src := &closingSource{}
	src.Frames = []*frame.Frame{{Data: []byte{1}, MIMEType: "image/png"}}
	an := &visionmock.Analyzer{Results: []vision.Result{parsedResult("Tires. So many tires.", "")}}

	a, err := app.New(context.Background(), testConfig(),
		&app.Providers{Vision: an, Source: src},
		app.WithMetrics(testMetrics(t)),
		app.WithManualTiming(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Loop().Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	a.Loop().Tick()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if got := a.Loop().State(); got != loop.StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
	if got := a.Loop().Ledger().Len(); got != 1 {
		t.Errorf("ledger has %d records, want the running segment finalized", got)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a, err := app.New(context.Background(), cfg,
		&app.Providers{Vision: &visionmock.Analyzer{}, Source: &framemock.Source{}},
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterVision("openai", func(config.ProviderEntry) (vision.Analyzer, error) {
		return &visionmock.Analyzer{}, nil
	})
	reg.RegisterVision("ollama", func(config.ProviderEntry) (vision.Analyzer, error) {
		return &visionmock.Analyzer{}, nil
	})
	reg.RegisterVision("broken", func(config.ProviderEntry) (vision.Analyzer, error) {
		return nil, errors.New("no credentials")
	})
	reg.RegisterSource(config.CaptureMailbox, func(config.CaptureConfig) (frame.Source, error) {
		return frame.NewMailbox(), nil
	})

	t.Run("primary and fallbacks", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Providers.Vision.Fallbacks = []config.ProviderEntry{
			{Name: "broken", Model: "x"},
			{Name: "ollama", Model: "llava"},
		}

		ps, err := app.BuildProviders(cfg, reg, testMetrics(t))
		if err != nil {
			t.Fatalf("BuildProviders: %v", err)
		}
		fb, ok := ps.Vision.(*resilience.VisionFallback)
		if !ok {
			t.Fatalf("vision = %T, want *resilience.VisionFallback", ps.Vision)
		}
		var names []string
		for _, st := range fb.Status() {
			names = append(names, st.Name)
		}
		if !slices.Equal(names, []string{"openai", "ollama"}) {
			t.Errorf("chain = %v, want [openai ollama]", names)
		}
		if _, ok := ps.Source.(*frame.Mailbox); !ok {
			t.Errorf("source = %T, want *frame.Mailbox", ps.Source)
		}
	})

	t.Run("unknown primary", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Providers.Vision.Name = "nope"
		if _, err := app.BuildProviders(cfg, reg, testMetrics(t)); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig()
		cfg.Capture.Source = config.CaptureDir
		if _, err := app.BuildProviders(cfg, reg, testMetrics(t)); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}
