package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xa, 0xb},
		SpanID:     trace.SpanID{0xc},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	rt := CaptureRowTrace(ctx)
	if rt.Empty() {
		t.Fatal("expected traceparent to be populated")
	}

	restored := trace.SpanContextFromContext(rt.Context(context.Background()))
	if restored.TraceID() != sc.TraceID() {
		t.Fatalf("expected trace id %s, got %s", sc.TraceID(), restored.TraceID())
	}
	if !restored.IsRemote() {
		t.Fatal("expected restored span context to be remote")
	}
}

func TestRowTrace_EmptyLeavesContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	rt := CaptureRowTrace(context.Background())
	if !rt.Empty() {
		t.Fatalf("expected empty row trace without a span, got %+v", rt)
	}
	ctx := context.Background()
	if got := rt.Context(ctx); got != ctx {
		t.Fatal("expected context to be returned unchanged")
	}
}

func TestConfigRatioClamp(t *testing.T) {
	if r := (Config{SampleRatio: 4}).ratio(); r != 1 {
		t.Fatalf("expected out-of-range ratio to fall back to 1, got %v", r)
	}
	if r := (Config{SampleRatio: 0.25}).ratio(); r != 0.25 {
		t.Fatalf("expected 0.25, got %v", r)
	}
}
