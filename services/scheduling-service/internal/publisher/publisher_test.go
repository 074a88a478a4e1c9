package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carelink/apptpipeline/libs/events"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/model"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/outbox"
	"github.com/jackc/pgx/v5"
)

type recordingOutbox struct {
	got []outbox.Event
	err error
}

func (o *recordingOutbox) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	if o.err != nil {
		return o.err
	}
	o.got = append(o.got, evt)
	return nil
}

func appointment() model.Appointment {
	return model.Appointment{
		ID:              42,
		PatientID:       7,
		PatientName:     "Jane Roe",
		PatientEmail:    "jane@example.com",
		DoctorID:        3,
		DoctorName:      "Dr. Smith",
		AppointmentDate: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:          model.StatusScheduled,
		Version:         1,
		UpdatedAt:       time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestPublish_RoutesByKind(t *testing.T) {
	cases := []struct {
		name      string
		kind      Kind
		status    model.Status
		routing   string
		typ       events.Type
		cancelled bool
	}{
		{"create", Created, model.StatusScheduled, "appointment.created", events.Created, false},
		{"update", Updated, model.StatusCompleted, "appointment.updated", events.Updated, false},
		{"cancel via update", Updated, model.StatusCancelled, "appointment.updated", events.Updated, true},
		{"delete", Deleted, model.StatusCancelled, "appointment.updated", events.Updated, true},
	}

	for _, tc := range cases {
		ob := &recordingOutbox{}
		p := New(ob, topology.Default())
		p.newID = func() string { return "evt-" + tc.name }

		appt := appointment()
		appt.Status = tc.status
		if err := p.Publish(context.Background(), nil, appt, tc.kind); err != nil {
			t.Fatalf("%s: Publish failed: %v", tc.name, err)
		}
		if len(ob.got) != 1 {
			t.Fatalf("%s: expected 1 outbox row, got %d", tc.name, len(ob.got))
		}
		row := ob.got[0]
		if row.RoutingKey != tc.routing || row.EventType != string(tc.typ) || row.AggregateID != "42" {
			t.Fatalf("%s: unexpected outbox row %+v", tc.name, row)
		}
		if row.EventID != "evt-"+tc.name {
			t.Fatalf("%s: unexpected event id %q", tc.name, row.EventID)
		}

		evt, err := events.Decode(row.Payload)
		if err != nil {
			t.Fatalf("%s: payload does not decode: %v", tc.name, err)
		}
		if evt.Cancelled != tc.cancelled || evt.Version != 1 {
			t.Fatalf("%s: unexpected event %+v", tc.name, evt)
		}
	}
}

func TestPublish_InvalidSnapshotIsNotStaged(t *testing.T) {
	ob := &recordingOutbox{}
	p := New(ob, topology.Default())

	appt := appointment()
	appt.PatientEmail = ""
	err := p.Publish(context.Background(), nil, appt, Created)
	if !errors.Is(err, events.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if len(ob.got) != 0 {
		t.Fatal("expected nothing staged")
	}
}

func TestPublish_OutboxErrorPropagates(t *testing.T) {
	ob := &recordingOutbox{err: errors.New("conn reset")}
	if err := New(ob, topology.Default()).Publish(context.Background(), nil, appointment(), Created); err == nil {
		t.Fatal("expected outbox error")
	}
}
