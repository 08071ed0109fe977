// Package observe wires captionflow into OpenTelemetry: the metric
// instruments of every pipeline stage, tracing helpers, trace-aware slog
// loggers and the HTTP middleware that ties them together.
//
// [Setup] installs the SDK providers and a Prometheus bridge for /metrics.
// [DefaultMetrics] binds to whatever global provider is installed; tests build
// their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/captionflow"

// Metrics holds the application's instruments. Attribute sets are documented
// per field; the Record helpers below apply them.
type Metrics struct {
	// ─── Pipeline latency (seconds) ───

	FetchDuration   metric.Float64Histogram // status
	SegmentDuration metric.Float64Histogram // fallback
	BlockDuration   metric.Float64Histogram // status
	LLMDuration     metric.Float64Histogram // provider, kind

	// ─── Counters ───

	ProviderRequests   metric.Int64Counter // provider, kind, status
	ProviderErrors     metric.Int64Counter // provider, kind
	BreakerTransitions metric.Int64Counter // provider, to
	FragmentsParsed    metric.Int64Counter // format
	CacheLookups       metric.Int64Counter // result

	// ─── Gauges ───

	ActiveSessions  metric.Int64UpDownCounter
	ActivePipelines metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware] with method, route and
	// status_class.
	HTTPRequestDuration metric.Float64Histogram
}

// Caption fetches and block translations run from tens of milliseconds to
// tens of seconds.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewMetrics creates every instrument on mp's captionflow meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var errs []error

	latency := func(name, desc string) metric.Float64Histogram {
		h, err := m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := m.Int64UpDownCounter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return g
	}

	met := &Metrics{
		FetchDuration:   latency("captionflow.fetch.duration", "Time until the page delivered a caption payload."),
		SegmentDuration: latency("captionflow.segment.duration", "Latency of AI segmentation round trips."),
		BlockDuration:   latency("captionflow.block.duration", "Latency of translating one caption block."),
		LLMDuration:     latency("captionflow.llm.duration", "Latency of LLM inference."),

		ProviderRequests:   counter("captionflow.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:     counter("captionflow.provider.errors", "Provider errors by provider and kind."),
		BreakerTransitions: counter("captionflow.breaker.transitions", "Circuit breaker state changes by provider and new state."),
		FragmentsParsed:    counter("captionflow.fragments.parsed", "Caption fragments produced by format."),
		CacheLookups:       counter("captionflow.cache.lookups", "Translation cache lookups by result."),

		ActiveSessions:  gauge("captionflow.active_sessions", "Connected page sessions."),
		ActivePipelines: gauge("captionflow.active_pipelines", "Enabled caption pipelines."),
	}
	var err error
	met.HTTPRequestDuration, err = m.Float64Histogram("captionflow.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status class."),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use from
// [otel.GetMeterProvider]. Call [Setup] before the first use so the
// instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ─── Record helpers ───

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordFetch(ctx context.Context, elapsed time.Duration, status string) {
	m.FetchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordParse adds the fragments one payload produced.
func (m *Metrics) RecordParse(ctx context.Context, format string, fragments int) {
	m.FragmentsParsed.Add(ctx, int64(fragments), metric.WithAttributes(attribute.String("format", format)))
}

// RecordSegmentation records one AI segmentation round trip. fallback is true
// when the rule-based segmenter had to take over.
func (m *Metrics) RecordSegmentation(ctx context.Context, elapsed time.Duration, fallback bool) {
	m.SegmentDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("fallback", fallback)))
}

func (m *Metrics) RecordBlock(ctx context.Context, elapsed time.Duration, status string) {
	m.BlockDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordLLM(ctx context.Context, elapsed time.Duration, provider, kind string) {
	m.LLMDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}
