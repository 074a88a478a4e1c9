package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/events"
	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/services/notification-service/internal/dedupe"
	"github.com/carelink/apptpipeline/services/notification-service/internal/templates"
	"github.com/segmentio/kafka-go"
)

type sent struct{ to, subject, body string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (s *fakeSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{to, subject, body})
	return nil
}

type memGuard struct {
	claimed  map[string]bool
	released []string
	err      error
}

type memClaim struct {
	g  *memGuard
	id string
}

func (c memClaim) Release(context.Context) error {
	delete(c.g.claimed, c.id)
	c.g.released = append(c.g.released, c.id)
	return nil
}

func (g *memGuard) Claim(_ context.Context, id string) (dedupe.Claim, bool, error) {
	if g.err != nil {
		return nil, false, g.err
	}
	if g.claimed[id] {
		return nil, false, nil
	}
	g.claimed[id] = true
	return memClaim{g: g, id: id}, true, nil
}

type failingRenderer struct{}

func (failingRenderer) Render(events.AppointmentEvent) (templates.Message, error) {
	return templates.Message{}, errors.New("template exploded")
}

func testEvent(t events.Type, cancelled bool) events.AppointmentEvent {
	return events.AppointmentEvent{
		AppointmentID:   42,
		PatientID:       7,
		PatientName:     "Jane Roe",
		PatientEmail:    "jane@example.com",
		DoctorID:        3,
		DoctorName:      "Dr. Smith",
		AppointmentDate: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		EventType:       t,
		Cancelled:       cancelled,
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotify_DisabledSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	n := New(false, templates.NewRenderer(nil), sender, nil, discard())

	res := n.Notify(context.Background(), "e-1", testEvent(events.Created, false))
	if res.Kind != consumer.KindAck || res.Reason != ReasonDisabled {
		t.Fatalf("expected disabled skip, got %+v", res)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected nothing sent, got %d", len(sender.sent))
	}
}

func TestNotify_EachTypeUsesItsTemplate(t *testing.T) {
	sender := &fakeSender{}
	n := New(true, templates.NewRenderer(nil), sender, nil, discard())

	n.Notify(context.Background(), "e-1", testEvent(events.Created, false))
	n.Notify(context.Background(), "e-2", testEvent(events.Updated, false))
	n.Notify(context.Background(), "e-3", testEvent(events.Updated, true))

	want := []string{"Appointment Scheduled", "Appointment Updated", "Appointment Cancelled"}
	if len(sender.sent) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(sender.sent))
	}
	for i, s := range sender.sent {
		if s.subject != want[i] || s.to != "jane@example.com" {
			t.Fatalf("message %d: unexpected %+v", i, s)
		}
	}
}

func TestNotify_DuplicateEventSentOnce(t *testing.T) {
	sender := &fakeSender{}
	guard := &memGuard{claimed: map[string]bool{}}
	n := New(true, templates.NewRenderer(nil), sender, guard, discard())

	first := n.Notify(context.Background(), "e-1", testEvent(events.Created, false))
	second := n.Notify(context.Background(), "e-1", testEvent(events.Created, false))
	if first.Kind != consumer.KindAck || second.Reason != ReasonAlreadySent {
		t.Fatalf("unexpected results %+v / %+v", first, second)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected a single send, got %d", len(sender.sent))
	}
}

func TestNotify_SendFailureRetriesAndReleasesClaim(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp 451")}
	guard := &memGuard{claimed: map[string]bool{}}
	n := New(true, templates.NewRenderer(nil), sender, guard, discard())

	res := n.Notify(context.Background(), "e-1", testEvent(events.Updated, true))
	if res.Kind != consumer.KindRetry {
		t.Fatalf("expected retry, got %+v", res)
	}
	if guard.claimed["e-1"] || len(guard.released) != 1 {
		t.Fatalf("expected claim released, got %+v", guard)
	}

	sender.err = nil
	if res := n.Notify(context.Background(), "e-1", testEvent(events.Updated, true)); res.Kind != consumer.KindAck || res.Reason != "" {
		t.Fatalf("expected redelivery to send, got %+v", res)
	}
}

func TestNotify_GuardOutageStillSends(t *testing.T) {
	sender := &fakeSender{}
	guard := &memGuard{err: errors.New("redis down")}
	n := New(true, templates.NewRenderer(nil), sender, guard, discard())

	if res := n.Notify(context.Background(), "e-1", testEvent(events.Created, false)); res.Kind != consumer.KindAck {
		t.Fatalf("expected ack, got %+v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatal("expected message sent without dedupe")
	}
}

func TestNotify_RenderFailureDeadLetters(t *testing.T) {
	n := New(true, failingRenderer{}, &fakeSender{}, nil, discard())
	res := n.Notify(context.Background(), "e-1", testEvent(events.Created, false))
	if res.Kind != consumer.KindDeadLetter || res.Reason != ReasonRender {
		t.Fatalf("expected dead letter, got %+v", res)
	}
}

func TestHandle_UsesHeaderEventID(t *testing.T) {
	sender := &fakeSender{}
	guard := &memGuard{claimed: map[string]bool{}}
	n := New(true, templates.NewRenderer(nil), sender, guard, discard())

	payload, err := events.Encode(testEvent(events.Created, false))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := kafka.Message{Value: payload, Headers: kafkax.EventMeta{EventID: "evt-9", EventType: "CREATED"}.Headers()}
	if res := n.Handle(context.Background(), msg); res.Kind != consumer.KindAck {
		t.Fatalf("expected ack, got %+v", res)
	}
	if !guard.claimed["evt-9"] {
		t.Fatalf("expected claim on header event id, got %+v", guard.claimed)
	}

	if res := n.Handle(context.Background(), kafka.Message{Value: []byte("not json")}); res.Kind != consumer.KindDeadLetter {
		t.Fatalf("expected dead letter for bad payload, got %+v", res)
	}
}

func TestHandle_HeaderlessUpdatesForOneAppointmentAllSend(t *testing.T) {
	sender := &fakeSender{}
	guard := &memGuard{claimed: map[string]bool{}}
	n := New(true, templates.NewRenderer(nil), sender, guard, discard())

	reschedule := testEvent(events.Updated, false)
	reschedule.Version = 2
	cancel := testEvent(events.Updated, true)
	cancel.Version = 3

	for i, evt := range []events.AppointmentEvent{reschedule, cancel} {
		payload, err := events.Encode(evt)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		msg := kafka.Message{
			Topic:  "appointments.appointment.updated",
			Key:    []byte("42"),
			Offset: int64(i),
			Value:  payload,
		}
		if res := n.Handle(context.Background(), msg); res.Kind != consumer.KindAck || res.Reason != "" {
			t.Fatalf("message %d: expected plain ack, got %+v", i, res)
		}
	}

	want := []string{"Appointment Updated", "Appointment Cancelled"}
	if len(sender.sent) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(sender.sent))
	}
	for i, s := range sender.sent {
		if s.subject != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], s.subject)
		}
	}
}
