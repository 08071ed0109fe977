package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the counter data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "translate", "ok")
	m.RecordProviderRequest(ctx, "openai", "translate", "ok")
	m.RecordProviderRequest(ctx, "openai", "translate", "error")
	m.RecordProviderError(ctx, "openai", "segment")
	m.RecordBreakerTransition(ctx, "openai", "open")
	m.RecordBreakerTransition(ctx, "openai", "half-open")
	m.RecordBreakerTransition(ctx, "openai", "open")
	m.RecordParse(ctx, "karaoke", 12)
	m.RecordParse(ctx, "karaoke", 3)
	m.RecordParse(ctx, "standard", 40)
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)
	m.RecordCacheLookup(ctx, true)

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"captionflow.provider.requests", "status", "ok", 2},
		{"captionflow.provider.requests", "status", "error", 1},
		{"captionflow.provider.errors", "kind", "segment", 1},
		{"captionflow.breaker.transitions", "to", "open", 2},
		{"captionflow.breaker.transitions", "to", "half-open", 1},
		{"captionflow.fragments.parsed", "format", "karaoke", 15},
		{"captionflow.fragments.parsed", "format", "standard", 40},
		{"captionflow.cache.lookups", "result", "hit", 2},
		{"captionflow.cache.lookups", "result", "miss", 1},
	}
	for _, tc := range tests {
		if got := sumFor(t, rm, tc.metric, tc.key, tc.value); got != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.metric, tc.key, tc.value, got, tc.want)
		}
	}
}

func TestRecordStageDurations(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFetch(ctx, 300*time.Millisecond, "ok")
	m.RecordFetch(ctx, 40*time.Millisecond, "ok")
	m.RecordSegmentation(ctx, 2*time.Second, true)
	m.RecordBlock(ctx, time.Second, "error")
	m.RecordLLM(ctx, 800*time.Millisecond, "openai", "translate")

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"captionflow.fetch.duration":   2,
		"captionflow.segment.duration": 1,
		"captionflow.block.duration":   1,
		"captionflow.llm.duration":     1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Fatalf("metric %q = %+v, want one histogram series", name, met.Data)
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
		if got := hist.DataPoints[0].Bounds; len(got) != len(latencyBuckets) {
			t.Errorf("%s bounds = %v, want the latency buckets", name, got)
		}
	}
}

func TestGauges(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActivePipelines.Add(ctx, 3)
	m.ActivePipelines.Add(ctx, -1)

	rm := collect(t, reader)
	for _, name := range []string{"captionflow.active_sessions", "captionflow.active_pipelines"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum := met.Data.(metricdata.Sum[int64])
		if sum.IsMonotonic || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
			t.Errorf("%s = %+v, want a non-monotonic sum of 2", name, sum)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
