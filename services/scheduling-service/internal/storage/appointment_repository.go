package storage

import (
	"context"
	"errors"
	"time"

	"github.com/carelink/apptpipeline/libs/db"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/model"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("appointment not found")

const appointmentColumns = `
	id, patient_id, patient_name, patient_email, doctor_id, doctor_name,
	appointment_date, notes, status, version, created_at, updated_at, deleted_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert stores appt and fills in the store-assigned fields.
func (r *AppointmentRepository) Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO appointments
			(patient_id, patient_name, patient_email, doctor_id, doctor_name, appointment_date, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at
	`, appt.PatientID, appt.PatientName, appt.PatientEmail, appt.DoctorID, appt.DoctorName,
		appt.AppointmentDate, appt.Notes, appt.Status,
	).Scan(&appt.ID, &appt.Version, &appt.CreatedAt, &appt.UpdatedAt)
}

func (r *AppointmentRepository) Get(ctx context.Context, id int64) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanOne(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	return scanOne(row)
}

// ListByPatient returns live appointments of a patient ordered by date.
// A non-nil after limits the result to appointments later than it.
func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID int64, after *time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
			AND deleted_at IS NULL
			AND ($2::timestamptz IS NULL OR appointment_date > $2)
		ORDER BY appointment_date
	`, patientID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// Update writes the mutable fields and bumps the version.
func (r *AppointmentRepository) Update(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
			notes = $3,
			status = $4,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING version, updated_at
	`, appt.ID, appt.AppointmentDate, appt.Notes, appt.Status).Scan(&appt.Version, &appt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// SoftDelete hides the appointment from reads and cancels it.
func (r *AppointmentRepository) SoftDelete(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	var deletedAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED',
			deleted_at = now(),
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING version, updated_at, deleted_at
	`, appt.ID).Scan(&appt.Version, &appt.UpdatedAt, &deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	appt.Status = model.StatusCancelled
	appt.DeletedAt = &deletedAt
	return nil
}

func scanOne(row pgx.Row) (model.Appointment, error) {
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.PatientID,
		&appt.PatientName,
		&appt.PatientEmail,
		&appt.DoctorID,
		&appt.DoctorName,
		&appt.AppointmentDate,
		&appt.Notes,
		&appt.Status,
		&appt.Version,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&appt.DeletedAt,
	)
	return appt, err
}
