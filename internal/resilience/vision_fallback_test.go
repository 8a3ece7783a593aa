package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/pkg/frame"
	"github.com/MrWong99/adroast/pkg/provider/vision"
	visionmock "github.com/MrWong99/adroast/pkg/provider/vision/mock"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := attribute.NewSet(attrs...)
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

type analyzerFunc func(context.Context, vision.Request) (vision.Result, error)

func (f analyzerFunc) Analyze(ctx context.Context, req vision.Request) (vision.Result, error) {
	return f(ctx, req)
}

func testRequest() vision.Request {
	return vision.Request{Frame: &frame.Frame{Data: []byte{1, 2, 3}, MIMEType: "image/png"}}
}

func TestVisionFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	primary := &visionmock.Analyzer{Results: []vision.Result{{Observation: vision.Observation{Commentary: "Cars."}}}}
	secondary := &visionmock.Analyzer{}

	f := NewVisionFallback(primary, "openai", FallbackConfig{}, m)
	f.AddFallback("anthropic", secondary)

	res, err := f.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Observation.Commentary != "Cars." {
		t.Errorf("Commentary = %q", res.Observation.Commentary)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
	got := counterValue(t, reader, "adroast.provider.requests",
		attribute.String("provider", "openai"),
		attribute.String("kind", "vision"),
		attribute.String("status", "parsed"))
	if got != 1 {
		t.Errorf("parsed requests for openai = %d, want 1", got)
	}
}

func TestVisionFallback_Failover(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	primary := &visionmock.Analyzer{Err: errTest}
	secondary := &visionmock.Analyzer{Results: []vision.Result{{Kind: vision.KindDegraded, Observation: vision.Observation{Commentary: "Hm."}}}}

	f := NewVisionFallback(primary, "openai", FallbackConfig{}, m)
	f.AddFallback("ollama", secondary)

	res, err := f.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Kind != vision.KindDegraded {
		t.Errorf("Kind = %v, want degraded", res.Kind)
	}
	if secondary.CallCount() != 1 {
		t.Errorf("secondary called %d times, want 1", secondary.CallCount())
	}
	if got := counterValue(t, reader, "adroast.provider.errors",
		attribute.String("provider", "openai"),
		attribute.String("kind", "vision")); got != 1 {
		t.Errorf("openai errors = %d, want 1", got)
	}
}

func TestVisionFallback_RateLimitSurvivesAllFailed(t *testing.T) {
	t.Parallel()

	m, reader := testMetrics(t)
	primary := &visionmock.Analyzer{Err: &vision.RateLimitError{RetryAfter: 20 * time.Second, Err: errTest}}
	secondary := &visionmock.Analyzer{Err: errors.New("connection refused")}

	f := NewVisionFallback(primary, "openai", FallbackConfig{}, m)
	f.AddFallback("ollama", secondary)

	_, err := f.Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	rl, ok := vision.AsRateLimit(err)
	if !ok {
		t.Fatalf("AsRateLimit(%v) = false, want true", err)
	}
	if rl.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", rl.RetryAfter)
	}
	if got := counterValue(t, reader, "adroast.provider.requests",
		attribute.String("provider", "openai"),
		attribute.String("kind", "vision"),
		attribute.String("status", "rate_limited")); got != 1 {
		t.Errorf("rate_limited requests = %d, want 1", got)
	}
}

func TestVisionFallback_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    string
	}{
		{name: "primary healthy", want: "openai"},
		{name: "primary down", failing: map[string]bool{"openai": true}, want: "anthropic"},
		{name: "two down", failing: map[string]bool{"openai": true, "anthropic": true}, want: "ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, _ := testMetrics(t)
			mk := func(name string) *visionmock.Analyzer {
				if tt.failing[name] {
					return &visionmock.Analyzer{Err: errTest}
				}
				return &visionmock.Analyzer{Results: []vision.Result{{Observation: vision.Observation{Commentary: name}}}}
			}
			f := NewVisionFallback(mk("openai"), "openai", FallbackConfig{}, m)
			f.AddFallback("anthropic", mk("anthropic"))
			f.AddFallback("ollama", mk("ollama"))

			res, err := f.Analyze(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if res.Observation.Commentary != tt.want {
				t.Errorf("served by %q, want %q", res.Observation.Commentary, tt.want)
			}
		})
	}
}

func TestVisionFallback_AllFailKeepsCauses(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	errPrimary := errors.New("primary exploded")
	f := NewVisionFallback(&visionmock.Analyzer{Err: errPrimary}, "openai", FallbackConfig{}, m)
	f.AddFallback("ollama", &visionmock.Analyzer{Err: errTest})

	_, err := f.Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errPrimary) || !errors.Is(err, errTest) {
		t.Errorf("err = %v, want both causes reachable", err)
	}
}

func TestVisionFallback_RateLimitHoldsBackend(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	clock := newFakeClock()
	primary := &visionmock.Analyzer{Err: &vision.RateLimitError{RetryAfter: 30 * time.Second}}
	secondary := &visionmock.Analyzer{}

	f := NewVisionFallback(primary, "openai",
		FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 5, Now: clock.Now}}, m)
	f.AddFallback("ollama", secondary)

	for range 3 {
		if _, err := f.Analyze(context.Background(), testRequest()); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times during its hold, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 3 {
		t.Errorf("secondary called %d times, want 3", secondary.CallCount())
	}
	st := f.Status()[0]
	if st.State != "open" || !st.OpenUntil.Equal(clock.Now().Add(30*time.Second)) {
		t.Errorf("primary status = %+v", st)
	}

	clock.Advance(30 * time.Second)
	_, _ = f.Analyze(context.Background(), testRequest())
	if primary.CallCount() != 2 {
		t.Errorf("primary not probed after the hold, calls = %d", primary.CallCount())
	}
}

func TestVisionFallback_StopsWhenContextDone(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	ctx, cancel := context.WithCancel(context.Background())
	primary := analyzerFunc(func(context.Context, vision.Request) (vision.Result, error) {
		cancel()
		return vision.Result{}, context.Canceled
	})
	secondary := &visionmock.Analyzer{}
	f := NewVisionFallback(primary, "openai", FallbackConfig{}, m)
	f.AddFallback("ollama", secondary)

	if _, err := f.Analyze(ctx, testRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.CallCount() != 0 {
		t.Error("walk continued after the context was cancelled")
	}
	if f.Status()[0].State != "closed" {
		t.Error("a cancelled call opened the breaker")
	}
}

func TestVisionFallback_Status(t *testing.T) {
	t.Parallel()

	m, _ := testMetrics(t)
	f := NewVisionFallback(&visionmock.Analyzer{Err: errTest}, "openai",
		FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}}, m)
	f.AddFallback("gemini", &visionmock.Analyzer{})

	if _, err := f.Analyze(context.Background(), testRequest()); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	st := f.Status()
	if len(st) != 2 {
		t.Fatalf("Status() has %d entries, want 2", len(st))
	}
	if st[0].Name != "openai" || st[0].State != "open" || st[0].OpenUntil.IsZero() {
		t.Errorf("Status()[0] = %+v", st[0])
	}
	if st[1] != (EntryStatus{Name: "gemini", State: "closed"}) {
		t.Errorf("Status()[1] = %+v", st[1])
	}
}
