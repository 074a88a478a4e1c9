package storage

import (
	"context"
	"errors"
	"time"

	"github.com/carelink/apptpipeline/libs/db"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound        = errors.New("history record not found")
	ErrVersionConflict = errors.New("history record changed concurrently")
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCancelled Status = "CANCELLED"
)

// Record is the derived copy of one appointment.
type Record struct {
	AppointmentID   int64
	PatientID       int64
	PatientName     string
	PatientEmail    string
	DoctorID        int64
	DoctorName      string
	AppointmentDate time.Time
	Notes           string
	Status          Status
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const recordColumns = `
	appointment_id, patient_id, patient_name, patient_email, doctor_id, doctor_name,
	appointment_date, notes, status, version, created_at, updated_at`

type HistoryRepository struct {
	pool *db.Pool
}

func NewHistoryRepository(pool *db.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// InsertIfAbsent stores rec unless a row with the same id exists. It
// reports whether a row was written.
func (r *HistoryRepository) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_history (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (appointment_id) DO NOTHING
	`, rec.AppointmentID, rec.PatientID, rec.PatientName, rec.PatientEmail, rec.DoctorID, rec.DoctorName,
		rec.AppointmentDate, rec.Notes, rec.Status, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *HistoryRepository) Get(ctx context.Context, id int64) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+`
		FROM appointment_history
		WHERE appointment_id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// Save overwrites the mutable fields of rec if the stored version still
// equals expectedVersion.
func (r *HistoryRepository) Save(ctx context.Context, rec Record, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment_history
		SET appointment_date = $2,
			notes = $3,
			status = $4,
			version = $5,
			updated_at = $6
		WHERE appointment_id = $1 AND version = $7
	`, rec.AppointmentID, rec.AppointmentDate, rec.Notes, rec.Status, rec.Version, rec.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListByPatient returns a patient's history ordered by appointment date.
// A non-nil after keeps only appointments later than it.
func (r *HistoryRepository) ListByPatient(ctx context.Context, patientID int64, after *time.Time) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+`
		FROM appointment_history
		WHERE patient_id = $1 AND ($2::timestamptz IS NULL OR appointment_date > $2)
		ORDER BY appointment_date
	`, patientID, after)
}

func (r *HistoryRepository) ListByDoctor(ctx context.Context, doctorID int64) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+`
		FROM appointment_history
		WHERE doctor_id = $1
		ORDER BY appointment_date
	`, doctorID)
}

func (r *HistoryRepository) ListAll(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `SELECT `+recordColumns+`
		FROM appointment_history
		ORDER BY appointment_date
	`)
}

func (r *HistoryRepository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.AppointmentID,
		&rec.PatientID,
		&rec.PatientName,
		&rec.PatientEmail,
		&rec.DoctorID,
		&rec.DoctorName,
		&rec.AppointmentDate,
		&rec.Notes,
		&rec.Status,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
