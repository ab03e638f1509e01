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

// withTracer installs an in-memory tracer provider as the global one.
func withTracer(t *testing.T) *tracetest.InMemoryExporter {
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

// captureLog points the default logger at a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_CycleCorrelation(t *testing.T) {
	exp := withTracer(t)

	ctx, span := StartSpan(context.Background(), "session.cycle")
	cid := CorrelationID(ctx)
	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID = %q, want 32 lowercase hex characters", cid)
	}

	_, child := StartSpan(ctx, "session.transcribe")
	child.End()
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if got := s.SpanContext.TraceID().String(); got != cid {
			t.Errorf("span %q trace = %s, want %s", s.Name, got, cid)
		}
	}
}

func TestCorrelationID_DistinctCycles(t *testing.T) {
	withTracer(t)

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "session.cycle")
		cid := CorrelationID(ctx)
		span.End()
		if seen[cid] {
			t.Fatalf("correlation ID %s repeated", cid)
		}
		seen[cid] = true
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	withTracer(t)

	tests := []struct {
		name     string
		withSpan bool
	}{
		{name: "inside a cycle", withSpan: true},
		{name: "outside a cycle", withSpan: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			ctx := context.Background()
			if tt.withSpan {
				c, s := StartSpan(ctx, "session.cycle")
				defer s.End()
				ctx = c
			}
			Logger(ctx).Info("transcript ready", "chars", 12)

			out := buf.String()
			for _, key := range []string{"trace_id=", "span_id="} {
				if got := strings.Contains(out, key); got != tt.withSpan {
					t.Errorf("log %q contains %s = %v, want %v", out, key, got, tt.withSpan)
				}
			}
			if !strings.Contains(out, "chars=12") {
				t.Errorf("log %q lost the call attributes", out)
			}
		})
	}
}
