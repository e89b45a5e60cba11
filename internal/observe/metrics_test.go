package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// counterValueWith returns the data point value whose attributes contain the
// given key/value pair, or -1 when absent.
func counterValueWith(sum metricdata.Sum[int64], key, value string) int64 {
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "CREATE_PATIENT", 120*time.Millisecond)
	m.RecordTurn(ctx, "CREATE_PATIENT", 80*time.Millisecond)
	m.RecordTurn(ctx, "LIST_PATIENTS", 40*time.Millisecond)

	rm := collect(t, reader)

	met := findMetric(rm, "hydrochat.turns")
	if met == nil {
		t.Fatal("turn counter not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("turn counter is not a sum")
	}
	if got := counterValueWith(sum, "intent", "CREATE_PATIENT"); got != 2 {
		t.Errorf("CREATE_PATIENT turns = %d, want 2", got)
	}

	met = findMetric(rm, "hydrochat.turn.duration")
	if met == nil {
		t.Fatal("turn duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("turn duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("turn duration sample count = %d, want 3", total)
	}
}

func TestRecordToolCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "create_patient", "ok", 50*time.Millisecond)
	m.RecordToolCall(ctx, "create_patient", "ok", 60*time.Millisecond)
	m.RecordToolCall(ctx, "create_patient", "error", 55*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "hydrochat.tool.calls")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValueWith(sum, "status", "ok"); got != 2 {
		t.Errorf("ok calls = %d, want 2", got)
	}
	if got := counterValueWith(sum, "status", "error"); got != 1 {
		t.Errorf("error calls = %d, want 1", got)
	}
}

func TestRecordToolRetry(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolRetry(ctx, "delete_patient")
	m.RecordToolRetry(ctx, "delete_patient")

	rm := collect(t, reader)
	met := findMetric(rm, "hydrochat.tool.retries")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValueWith(sum, "tool", "delete_patient"); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLMRequest(ctx, "openai", "ok", 700*time.Millisecond)
	m.RecordLLMRequest(ctx, "openai", "error", 10*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "hydrochat.llm.requests")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValueWith(sum, "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
}

func TestRecordLLMTokens(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLMTokens(ctx, "openai", 120, 30)

	rm := collect(t, reader)
	met := findMetric(rm, "hydrochat.llm.tokens")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := counterValueWith(sum, "kind", "prompt"); got != 120 {
		t.Errorf("prompt tokens = %d, want 120", got)
	}
	if got := counterValueWith(sum, "kind", "completion"); got != 30 {
		t.Errorf("completion tokens = %d, want 30", got)
	}
}

func TestRecordLLMTokens_ZeroSkipped(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// Provider reported nothing; no data points may appear.
	m.RecordLLMTokens(ctx, "openai", 0, 0)

	rm := collect(t, reader)
	if met := findMetric(rm, "hydrochat.llm.tokens"); met != nil {
		sum, ok := met.Data.(metricdata.Sum[int64])
		if ok && len(sum.DataPoints) != 0 {
			t.Errorf("zero token counts must not be recorded, got %d data points", len(sum.DataPoints))
		}
	}
}

func TestActiveConversationsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveConversations.Add(ctx, 3)
	m.ActiveConversations.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "hydrochat.conversations.active")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("gauge value = %d, want 2", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "POST"),
			attribute.String("path", "/converse"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "hydrochat.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
