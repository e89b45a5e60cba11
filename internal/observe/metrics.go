// Package observe provides application-wide observability primitives for
// HydroChat: OpenTelemetry metrics, distributed tracing, category-prefixed
// structured logging, HTTP middleware, and a per-turn latency tracker.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all HydroChat metrics.
const meterName = "github.com/hydrosense/hydrochat"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end conversational turn latency.
	TurnDuration metric.Float64Histogram

	// ToolDuration tracks backend REST call latency.
	ToolDuration metric.Float64Histogram

	// LLMDuration tracks LLM classification latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversational turns. Use with attribute:
	//   attribute.String("intent", ...)
	Turns metric.Int64Counter

	// ToolCalls counts backend REST calls. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolRetries counts backend retry attempts. Use with attribute:
	//   attribute.String("tool", ...)
	ToolRetries metric.Int64Counter

	// LLMRequests counts LLM provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	LLMRequests metric.Int64Counter

	// LLMTokens counts tokens reported by the LLM provider. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks the number of live conversation states in
	// the store.
	ActiveConversations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational-turn latencies: sub-second tool calls up to multi-second
// LLM round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("hydrochat.turn.duration",
		metric.WithDescription("End-to-end latency of a conversational turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("hydrochat.tool.duration",
		metric.WithDescription("Latency of backend REST calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("hydrochat.llm.duration",
		metric.WithDescription("Latency of LLM intent classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("hydrochat.turns",
		metric.WithDescription("Total conversational turns by classified intent."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("hydrochat.tool.calls",
		metric.WithDescription("Total backend REST calls by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolRetries, err = m.Int64Counter("hydrochat.tool.retries",
		metric.WithDescription("Total backend retry attempts by tool name."),
	); err != nil {
		return nil, err
	}
	if met.LLMRequests, err = m.Int64Counter("hydrochat.llm.requests",
		metric.WithDescription("Total LLM provider calls by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("hydrochat.llm.tokens",
		metric.WithDescription("Total LLM tokens by provider and kind (prompt or completion)."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("hydrochat.conversations.active",
		metric.WithDescription("Number of live conversation states in the store."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hydrochat.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn records a completed turn: increments the turn counter and
// observes its duration, both tagged with the classified intent.
func (m *Metrics) RecordTurn(ctx context.Context, intent string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("intent", intent))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordToolCall records one backend REST call with its outcome and latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordToolRetry records one backend retry attempt.
func (m *Metrics) RecordToolRetry(ctx context.Context, tool string) {
	m.ToolRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordLLMRequest records one LLM provider call with its outcome and latency.
func (m *Metrics) RecordLLMRequest(ctx context.Context, provider, status string, d time.Duration) {
	m.LLMRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordLLMTokens records token usage reported by the provider. Zero counts
// are skipped: a zero means the provider reported nothing, and estimated
// values must never be substituted.
func (m *Metrics) RecordLLMTokens(ctx context.Context, provider string, prompt, completion int64) {
	if prompt > 0 {
		m.LLMTokens.Add(ctx, prompt,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", "prompt"),
			),
		)
	}
	if completion > 0 {
		m.LLMTokens.Add(ctx, completion,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", "completion"),
			),
		)
	}
}
