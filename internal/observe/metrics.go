// Package observe provides application-wide observability primitives for
// adroast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all adroast metrics.
const meterName = "github.com/MrWong99/adroast"

// Tick outcomes recorded on [Metrics.Ticks].
const (
	OutcomeAnalyzed    = "analyzed"
	OutcomeDegraded    = "degraded"
	OutcomeSkippedBusy = "skipped_busy"
	OutcomeNoFrame     = "no_frame"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"
	OutcomeBudget      = "budget"
	OutcomeDiscarded   = "discarded"
)

// Metrics holds the OpenTelemetry instruments of the loop, the presenter,
// the vision providers and the HTTP surface. All fields are safe for
// concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks the wall time of one analysis tick, from capture to
	// applying the observation.
	TickDuration metric.Float64Histogram

	// AnalyzeDuration tracks vision provider latency.
	AnalyzeDuration metric.Float64Histogram

	// --- Counters ---

	// Ticks counts analysis ticks. Use with attribute:
	//   attribute.String("outcome", ...)
	Ticks metric.Int64Counter

	// SessionsFinalized counts finalized ad segments. Use with attribute:
	//   attribute.String("reason", "boundary"|"stop")
	SessionsFinalized metric.Int64Counter

	// BubblesReleased counts commentary bubbles put on screen.
	BubblesReleased metric.Int64Counter

	// BubblesEvicted counts bubbles taken off screen. Use with attribute:
	//   attribute.String("reason", "cap"|"expired"|"cleared")
	BubblesEvicted metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProxyRequests counts requests seen by the rate-limiting proxy. Use with
	// attribute:
	//   attribute.String("status", "forwarded"|"limited"|"upstream_error")
	ProxyRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// SentenceQueueDepth tracks sentences waiting to be released.
	SentenceQueueDepth metric.Int64UpDownCounter

	// ActiveLoops tracks running analysis loops (0 or 1).
	ActiveLoops metric.Int64UpDownCounter

	// StreamClients tracks connected websocket viewers.
	StreamClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration is keyed by method, mux route pattern and status
	// class ("2xx", "4xx", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for vision
// model round trips, which run from a few hundred milliseconds to the tick
// interval.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 4, 6, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("adroast.tick.duration",
		metric.WithDescription("Wall time of one analysis tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyzeDuration, err = m.Float64Histogram("adroast.analyze.duration",
		metric.WithDescription("Latency of vision analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Ticks, err = m.Int64Counter("adroast.ticks",
		metric.WithDescription("Total analysis ticks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFinalized, err = m.Int64Counter("adroast.sessions.finalized",
		metric.WithDescription("Total finalized ad segments by reason."),
	); err != nil {
		return nil, err
	}
	if met.BubblesReleased, err = m.Int64Counter("adroast.bubbles.released",
		metric.WithDescription("Total commentary bubbles released."),
	); err != nil {
		return nil, err
	}
	if met.BubblesEvicted, err = m.Int64Counter("adroast.bubbles.evicted",
		metric.WithDescription("Total commentary bubbles removed by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("adroast.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProxyRequests, err = m.Int64Counter("adroast.proxy.requests",
		metric.WithDescription("Total proxied model requests by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("adroast.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SentenceQueueDepth, err = m.Int64UpDownCounter("adroast.sentence_queue.depth",
		metric.WithDescription("Sentences waiting to be released as bubbles."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLoops, err = m.Int64UpDownCounter("adroast.active_loops",
		metric.WithDescription("Number of running analysis loops."),
	); err != nil {
		return nil, err
	}
	if met.StreamClients, err = m.Int64UpDownCounter("adroast.stream.clients",
		metric.WithDescription("Number of connected websocket viewers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("adroast.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTick records one tick with its outcome.
func (m *Metrics) RecordTick(ctx context.Context, outcome string) {
	m.Ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSessionFinalized records a finalized segment.
func (m *Metrics) RecordSessionFinalized(ctx context.Context, reason string) {
	m.SessionsFinalized.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBubbleEvicted records bubbles removed from the screen.
func (m *Metrics) RecordBubbleEvicted(ctx context.Context, reason string, n int) {
	if n <= 0 {
		return
	}
	m.BubblesEvicted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProxyRequest records one request handled by the proxy.
func (m *Metrics) RecordProxyRequest(ctx context.Context, status string) {
	m.ProxyRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
