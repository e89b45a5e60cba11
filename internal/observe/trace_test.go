package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withInMemorySpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID(t *testing.T) {
	t.Run("no active span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID = %q, want empty without a span", got)
		}
	})

	t.Run("matches trace id", func(t *testing.T) {
		withInMemorySpans(t)
		ctx, span := StartSpan(context.Background(), "turn")
		defer span.End()

		cid := CorrelationID(ctx)
		want := trace.SpanContextFromContext(ctx).TraceID().String()
		if cid != want {
			t.Errorf("CorrelationID = %q, want trace id %q", cid, want)
		}
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
		}
	})
}

func TestStartSpan_RecordsNamedSpan(t *testing.T) {
	exp := withInMemorySpans(t)

	_, span := StartSpan(context.Background(), "HTTP POST /converse")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP POST /converse" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestLogger_TraceAttributes(t *testing.T) {
	exp := withInMemorySpans(t)
	_ = exp

	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, span := StartSpan(context.Background(), "turn")
	Logger(ctx).Info("classified")
	span.End()

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("in-span log line missing trace attributes: %s", out)
	}

	buf.Reset()
	Logger(context.Background()).Info("startup")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("out-of-span log line should carry no trace attributes: %s", buf.String())
	}
}
