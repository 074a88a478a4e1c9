// Package projector applies appointment events to the history record.
//
// Per appointment id the record moves through absent -> SCHEDULED ->
// CANCELLED. CREATED only ever inserts, UPDATED only ever overwrites an
// existing row, and CANCELLED is final. Event versions let it drop
// redeliveries and out-of-order updates.
package projector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/events"
	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/services/history-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

const (
	ReasonDuplicateCreate    = "already_projected"
	ReasonMissingPredecessor = "missing_predecessor"
	ReasonCancelled          = "cancelled_latch"
	ReasonStale              = "stale_version"
	ReasonInvalidEvent       = "invalid_event"
)

type Store interface {
	InsertIfAbsent(ctx context.Context, rec storage.Record) (bool, error)
	Get(ctx context.Context, id int64) (storage.Record, error)
	Save(ctx context.Context, rec storage.Record, expectedVersion int64) error
}

type Projector struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Projector {
	return &Projector{store: store, logger: logger, now: time.Now}
}

// Handle is the consumer.Handler for both queues.
func (p *Projector) Handle(ctx context.Context, msg kafka.Message) consumer.Result {
	evt, err := events.Decode(msg.Value)
	if err != nil {
		meta := kafkax.ExtractEventMeta(msg)
		p.logger.Error("undecodable appointment event", "err", err, "event_id", meta.EventID, "topic", msg.Topic)
		return consumer.DeadLetter(ReasonInvalidEvent, err)
	}
	return p.Apply(ctx, evt)
}

func (p *Projector) Apply(ctx context.Context, evt events.AppointmentEvent) consumer.Result {
	if err := evt.Validate(); err != nil {
		return consumer.DeadLetter(ReasonInvalidEvent, err)
	}
	switch evt.EventType {
	case events.Created:
		return p.applyCreated(ctx, evt)
	case events.Updated:
		return p.applyUpdated(ctx, evt)
	default:
		return consumer.DeadLetter(ReasonInvalidEvent, events.ErrInvalidEvent)
	}
}

func (p *Projector) applyCreated(ctx context.Context, evt events.AppointmentEvent) consumer.Result {
	at := p.occurredAt(evt)
	inserted, err := p.store.InsertIfAbsent(ctx, storage.Record{
		AppointmentID:   evt.AppointmentID,
		PatientID:       evt.PatientID,
		PatientName:     evt.PatientName,
		PatientEmail:    evt.PatientEmail,
		DoctorID:        evt.DoctorID,
		DoctorName:      evt.DoctorName,
		AppointmentDate: evt.AppointmentDate,
		Notes:           evt.Notes,
		Status:          storage.StatusScheduled,
		Version:         evt.Version,
		CreatedAt:       at,
		UpdatedAt:       at,
	})
	if err != nil {
		return consumer.Retry(err)
	}
	if !inserted {
		return consumer.Skip(ReasonDuplicateCreate)
	}
	p.logger.Info("history created", p.attrs(ctx, evt)...)
	return consumer.Ack()
}

func (p *Projector) applyUpdated(ctx context.Context, evt events.AppointmentEvent) consumer.Result {
	rec, err := p.store.Get(ctx, evt.AppointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("history update dropped", append(p.attrs(ctx, evt), "reason", ReasonMissingPredecessor)...)
		return consumer.Skip(ReasonMissingPredecessor)
	}
	if err != nil {
		return consumer.Retry(err)
	}

	if rec.Status == storage.StatusCancelled {
		return consumer.Skip(ReasonCancelled)
	}
	if evt.Version > 0 && rec.Version > 0 && evt.Version <= rec.Version {
		return consumer.Skip(ReasonStale)
	}

	expected := rec.Version
	rec.AppointmentDate = evt.AppointmentDate
	rec.Notes = evt.Notes
	if evt.Version > 0 {
		rec.Version = evt.Version
	}
	rec.UpdatedAt = p.occurredAt(evt)
	if evt.Cancelled {
		rec.Status = storage.StatusCancelled
	}

	if err := p.store.Save(ctx, rec, expected); err != nil {
		// A lost race is retried against the fresh row.
		return consumer.Retry(err)
	}
	p.logger.Info("history updated", append(p.attrs(ctx, evt), "status", rec.Status)...)
	return consumer.Ack()
}

func (p *Projector) occurredAt(evt events.AppointmentEvent) time.Time {
	if evt.OccurredAt.IsZero() {
		return p.now().UTC()
	}
	return evt.OccurredAt
}

func (p *Projector) attrs(ctx context.Context, evt events.AppointmentEvent) []any {
	attrs := []any{
		"appointment_id", evt.AppointmentID,
		"event_type", evt.EventType,
		"cancelled", evt.Cancelled,
		"version", evt.Version,
	}
	return append(attrs, runtime.LogAttrs(ctx)...)
}
