// Package publisher turns committed appointment changes into lifecycle
// events. Events are staged in the outbox inside the caller's transaction,
// so an event exists exactly when the change it describes was committed.
package publisher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/carelink/apptpipeline/libs/events"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/model"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const aggregateType = "appointment"

type Kind int

const (
	Created Kind = iota
	Updated
	Deleted
)

type Outbox interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type Publisher struct {
	outbox   Outbox
	topology topology.Config
	newID    func() string
}

func New(ob Outbox, topo topology.Config) *Publisher {
	return &Publisher{outbox: ob, topology: topo, newID: uuid.NewString}
}

// Publish stages the event for appt. appt must already hold the state the
// transaction is about to commit.
func (p *Publisher) Publish(ctx context.Context, tx pgx.Tx, appt model.Appointment, kind Kind) error {
	evt := Snapshot(appt, kind)
	payload, err := events.Encode(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key, err := p.topology.RoutingKey(evt.EventType)
	if err != nil {
		return err
	}
	return p.outbox.Insert(ctx, tx, outbox.Event{
		EventID:       p.newID(),
		AggregateType: aggregateType,
		AggregateID:   strconv.FormatInt(appt.ID, 10),
		EventType:     string(evt.EventType),
		RoutingKey:    key,
		Payload:       payload,
	})
}

// Snapshot builds the wire event for appt. Deletion is announced as an
// update carrying the cancellation signal.
func Snapshot(appt model.Appointment, kind Kind) events.AppointmentEvent {
	evt := events.AppointmentEvent{
		AppointmentID:   appt.ID,
		PatientID:       appt.PatientID,
		PatientName:     appt.PatientName,
		PatientEmail:    appt.PatientEmail,
		DoctorID:        appt.DoctorID,
		DoctorName:      appt.DoctorName,
		AppointmentDate: appt.AppointmentDate,
		Notes:           appt.Notes,
		Version:         appt.Version,
		OccurredAt:      appt.UpdatedAt,
	}
	switch kind {
	case Created:
		evt.EventType = events.Created
	case Updated:
		evt.EventType = events.Updated
		evt.Cancelled = appt.Cancelled()
	case Deleted:
		evt.EventType = events.Updated
		evt.Cancelled = true
	}
	return evt
}
