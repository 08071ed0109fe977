package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_ServesMetricsFromOwnRegistry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := Setup(context.Background(), TelemetryConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordParse(context.Background(), "karaoke", 12)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"captionflow_fragments_parsed", `format="karaoke"`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics output lacks %q", want)
		}
	}
}

func TestSetup_ExportsSpans(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	exp := tracetest.NewInMemoryExporter()
	tel, err := Setup(context.Background(), TelemetryConfig{SpanExporter: exp})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	_, span := StartSpan(context.Background(), "pipeline.segment")
	EndSpan(span, nil)

	if err := tel.TracerProvider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if got := len(exp.GetSpans()); got != 1 {
		t.Errorf("exported spans = %d, want 1", got)
	}
}

func TestSampler(t *testing.T) {
	for _, r := range []float64{-1, 0, 1, 2} {
		if got := sampler(r).Description(); got != "AlwaysOnSampler" {
			t.Errorf("sampler(%v) = %s, want AlwaysOnSampler", r, got)
		}
	}
	if got := sampler(0.25).Description(); !strings.HasPrefix(got, "ParentBased") {
		t.Errorf("sampler(0.25) = %s, want ParentBased", got)
	}
}
