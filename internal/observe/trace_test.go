package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// tracedContext starts a span on an in-memory provider and returns its
// context together with the exporter holding finished spans.
func tracedContext(t *testing.T, name string) (context.Context, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), name)
	t.Cleanup(func() { span.End() })
	return ctx, exp
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	ctx, _ := tracedContext(t, "call.setup")
	cid := CorrelationID(ctx)
	if len(cid) != 32 || !isHex(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "transfer.dial")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "transfer.dial" {
		t.Fatalf("recorded spans = %+v", spans)
	}
}

func TestLogger_CarriesSpanIdentity(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, _ := tracedContext(t, "session.start")
	Logger(ctx).Info("greeting sent")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span identity: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	Logger(context.Background()).Info("no call context")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line has a trace_id without a span: %s", buf.String())
	}
}

func TestTracer_NotNil(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() = nil")
	}
}
