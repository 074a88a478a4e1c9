package kafkax

import (
	"context"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMeta_Fallbacks(t *testing.T) {
	msg := kafka.Message{Topic: "appointments.appointment.created", Key: []byte("42"), Partition: 2, Offset: 17}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "appointments.appointment.created/2/17" {
		t.Fatalf("unexpected fallback event id %q", meta.EventID)
	}
	if meta.EventType != msg.Topic {
		t.Fatalf("expected topic as event type, got %q", meta.EventType)
	}

	msg.Headers = EventMeta{EventID: "e-1", EventType: "CREATED"}.Headers()
	meta = ExtractEventMeta(msg)
	if meta.EventID != "e-1" || meta.EventType != "CREATED" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestExtractEventMeta_FallbackDiffersPerMessage(t *testing.T) {
	first := kafka.Message{Topic: "appointments.appointment.updated", Key: []byte("1"), Offset: 4}
	second := first
	second.Offset = 5

	a, b := ExtractEventMeta(first), ExtractEventMeta(second)
	if a.EventID == b.EventID {
		t.Fatalf("expected distinct ids for one key, both %q", a.EventID)
	}
	if again := ExtractEventMeta(first); again.EventID != a.EventID {
		t.Fatalf("expected stable id on redelivery, got %q and %q", a.EventID, again.EventID)
	}
}

func TestSetHeader_ReplacesExisting(t *testing.T) {
	h := []kafka.Header{{Key: "a", Value: []byte("1")}}
	h = SetHeader(h, "a", "2")
	h = SetHeader(h, "b", "3")
	if len(h) != 2 || HeaderValue(h, "a") != "2" || HeaderValue(h, "b") != "3" {
		t.Fatalf("unexpected headers %+v", h)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka:9092, ,kafka2:9092 ")
	if len(got) != 2 || got[0] != "kafka:9092" || got[1] != "kafka2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{9},
		SpanID:     trace.SpanID{8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e", EventType: "UPDATED"}.Headers())
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatal("expected traceparent header")
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if got.TraceID() != sc.TraceID() {
		t.Fatalf("expected trace id %s, got %s", sc.TraceID(), got.TraceID())
	}
}

func TestMissingTopics(t *testing.T) {
	partitions := []kafka.Partition{
		{Topic: "appointments.appointment.created", ID: 0},
		{Topic: "appointments.appointment.created", ID: 1},
	}
	if err := missingTopics([]string{"appointments.appointment.created"}, partitions); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	err := missingTopics([]string{"appointments.appointment.created", "appointments.appointment.updated"}, partitions)
	if err == nil || !strings.Contains(err.Error(), "appointments.appointment.updated") {
		t.Fatalf("expected missing updated topic, got %v", err)
	}
}

func TestReadyCheck_NoBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
