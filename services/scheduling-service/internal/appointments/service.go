// Package appointments owns writes to the appointment aggregate. Every write
// commits the row and its lifecycle event together.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carelink/apptpipeline/services/scheduling-service/internal/model"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/publisher"
	"github.com/jackc/pgx/v5"
)

var (
	ErrCancelled = errors.New("appointment is cancelled")
	ErrPastDate  = errors.New("appointment date must be in the future")
)

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
	Get(ctx context.Context, id int64) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error)
	ListByPatient(ctx context.Context, patientID int64, after *time.Time) ([]model.Appointment, error)
	Update(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
	SoftDelete(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
}

type EventPublisher interface {
	Publish(ctx context.Context, tx pgx.Tx, appt model.Appointment, kind publisher.Kind) error
}

type CreateInput struct {
	PatientID       int64
	PatientName     string
	PatientEmail    string
	DoctorID        int64
	DoctorName      string
	AppointmentDate time.Time
	Notes           string
}

// UpdateInput carries the fields to change; nil fields are left as they are.
type UpdateInput struct {
	AppointmentDate *time.Time
	Notes           *string
	Status          *model.Status
}

type Service struct {
	store     Store
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, pub EventPublisher, logger *slog.Logger) *Service {
	return &Service{store: store, publisher: pub, logger: logger, now: time.Now}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.Appointment, error) {
	if !in.AppointmentDate.After(s.now()) {
		return model.Appointment{}, ErrPastDate
	}
	appt := model.Appointment{
		PatientID:       in.PatientID,
		PatientName:     in.PatientName,
		PatientEmail:    in.PatientEmail,
		DoctorID:        in.DoctorID,
		DoctorName:      in.DoctorName,
		AppointmentDate: in.AppointmentDate.UTC(),
		Notes:           in.Notes,
		Status:          model.StatusScheduled,
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.Insert(ctx, tx, &appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return s.publisher.Publish(ctx, tx, appt, publisher.Created)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment created", "appointment_id", appt.ID, "patient_id", appt.PatientID, "version", appt.Version)
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.Appointment, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID int64, futureOnly bool) ([]model.Appointment, error) {
	var after *time.Time
	if futureOnly {
		now := s.now()
		after = &now
	}
	return s.store.ListByPatient(ctx, patientID, after)
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (model.Appointment, error) {
	if in.AppointmentDate != nil && !in.AppointmentDate.After(s.now()) {
		return model.Appointment{}, ErrPastDate
	}

	var appt model.Appointment
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		appt, err = s.store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if appt.Cancelled() {
			return ErrCancelled
		}

		if in.AppointmentDate != nil {
			appt.AppointmentDate = in.AppointmentDate.UTC()
		}
		if in.Notes != nil {
			appt.Notes = *in.Notes
		}
		if in.Status != nil {
			appt.Status = *in.Status
		}
		if err := s.store.Update(ctx, tx, &appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		return s.publisher.Publish(ctx, tx, appt, publisher.Updated)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment updated", "appointment_id", appt.ID, "status", appt.Status, "version", appt.Version)
	return appt, nil
}

// Delete soft-deletes the appointment. Deleting one that is already
// cancelled only hides it; no second cancellation is announced.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var announced bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		appt, err := s.store.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		wasCancelled := appt.Cancelled()
		if err := s.store.SoftDelete(ctx, tx, &appt); err != nil {
			return fmt.Errorf("delete appointment: %w", err)
		}
		if wasCancelled {
			return nil
		}
		announced = true
		return s.publisher.Publish(ctx, tx, appt, publisher.Deleted)
	})
	if err != nil {
		return err
	}
	s.logger.Info("appointment deleted", "appointment_id", id, "announced", announced)
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
