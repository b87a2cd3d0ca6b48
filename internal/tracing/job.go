package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceCarrier travels inside job payloads so that worker spans join the
// trace of whoever submitted the entry.
type TraceCarrier struct {
	TraceParent string `json:"trace_parent,omitempty"`
	TraceState  string `json:"trace_state,omitempty"`
}

func InjectTraceContext(ctx context.Context) TraceCarrier {
	mapCarrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, mapCarrier)

	return TraceCarrier{
		TraceParent: mapCarrier.Get("traceparent"),
		TraceState:  mapCarrier.Get("tracestate"),
	}
}

func ExtractTraceContext(ctx context.Context, carrier TraceCarrier) context.Context {
	if carrier.TraceParent == "" {
		return ctx
	}
	mapCarrier := propagation.MapCarrier{
		"traceparent": carrier.TraceParent,
		"tracestate":  carrier.TraceState,
	}
	return propagation.TraceContext{}.Extract(ctx, mapCarrier)
}

func StartJobSpan(ctx context.Context, jobType, jobID, entryID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "job.process."+jobType,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(
		attribute.String("job.type", jobType),
		attribute.String("job.id", jobID),
		attribute.String("media.entry_id", entryID),
	)
	return ctx, span
}

func StartJobEnqueueSpan(ctx context.Context, jobType, entryID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "job.enqueue."+jobType,
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("job.type", jobType),
		attribute.String("media.entry_id", entryID),
	)
	return ctx, span
}
