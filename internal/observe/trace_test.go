package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global provider for
// the duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "capture.start")
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("CorrelationID = %q, want a 32-char trace ID", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "capture.start" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if got := spans[0].InstrumentationScope.Name; got != meterName {
		t.Errorf("instrumentation scope = %q, want %q", got, meterName)
	}
}

func TestStartSpan_ChildSharesTrace(t *testing.T) {
	useTracer(t)

	ctx, parent := StartSpan(context.Background(), "capture.start")
	defer parent.End()
	child, span := StartSpan(ctx, "translate")
	defer span.End()

	if CorrelationID(child) != CorrelationID(ctx) {
		t.Error("child span started a new trace")
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("bridge client connected")
	ctx, span := StartSpan(context.Background(), "bridge")
	Logger(ctx).Info("bridge client connected")
	span.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("line without span carries trace_id: %s", lines[0])
	}
	if !strings.Contains(lines[1], "trace_id="+CorrelationID(ctx)) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("line with span lacks trace attributes: %s", lines[1])
	}
}
