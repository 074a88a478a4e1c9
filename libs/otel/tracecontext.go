package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// RowTrace is the W3C trace context stored next to a persisted record, so
// work resumed from the row later joins the trace that wrote it.
type RowTrace struct {
	Traceparent string
	Tracestate  string
}

// CaptureRowTrace renders the span in ctx with the global propagator. It is
// empty when ctx carries no span.
func CaptureRowTrace(ctx context.Context) RowTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return RowTrace{
		Traceparent: carrier.Get("traceparent"),
		Tracestate:  carrier.Get("tracestate"),
	}
}

func (t RowTrace) Empty() bool {
	return t.Traceparent == ""
}

// Context returns parent carrying t as its remote span context.
func (t RowTrace) Context(parent context.Context) context.Context {
	if t.Empty() {
		return parent
	}
	carrier := propagation.MapCarrier{"traceparent": t.Traceparent}
	if t.Tracestate != "" {
		carrier["tracestate"] = t.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(parent, carrier)
}
