package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceCarrierRoundTrip(t *testing.T) {
	if c := InjectTraceContext(context.Background()); c.TraceParent != "" {
		t.Errorf("InjectTraceContext() without span = %+v, want empty", c)
	}

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "submit")
	defer span.End()

	carrier := InjectTraceContext(ctx)
	if carrier.TraceParent == "" {
		t.Fatal("InjectTraceContext() TraceParent is empty")
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), carrier))
	if got.TraceID() != span.SpanContext().TraceID() {
		t.Errorf("ExtractTraceContext() trace id = %s, want %s", got.TraceID(), span.SpanContext().TraceID())
	}
	if !got.IsRemote() {
		t.Error("ExtractTraceContext() span context should be remote")
	}
}

func TestExtractTraceContextEmpty(t *testing.T) {
	ctx := context.Background()
	if got := ExtractTraceContext(ctx, TraceCarrier{}); got != ctx {
		t.Error("ExtractTraceContext() with empty carrier should return ctx unchanged")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}
