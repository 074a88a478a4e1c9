// Package events defines the wire contract for appointment lifecycle changes.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent marks a payload that can never be applied. Consumers treat
// it as permanent.
var ErrInvalidEvent = errors.New("invalid appointment event")

type Type string

const (
	Created Type = "CREATED"
	Updated Type = "UPDATED"

	// legacyCancelled is accepted on decode only.
	legacyCancelled Type = "CANCELLED"
)

func (t Type) Valid() bool {
	return t == Created || t == Updated
}

// AppointmentEvent is a full snapshot of an appointment at the moment of a
// lifecycle change. Cancellation travels as UPDATED with Cancelled set.
type AppointmentEvent struct {
	AppointmentID   int64     `json:"appointmentId"`
	PatientID       int64     `json:"patientId"`
	PatientName     string    `json:"patientName"`
	PatientEmail    string    `json:"patientEmail"`
	DoctorID        int64     `json:"doctorId"`
	DoctorName      string    `json:"doctorName"`
	AppointmentDate time.Time `json:"appointmentDate"`
	EventType       Type      `json:"eventType"`
	Cancelled       bool      `json:"cancelled,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	// Version is the aggregate version the snapshot was taken at; 0 means
	// the producer did not version it.
	Version    int64     `json:"version,omitempty"`
	OccurredAt time.Time `json:"occurredAt,omitzero"`
}

func (e AppointmentEvent) Validate() error {
	var problems []string
	if e.AppointmentID <= 0 {
		problems = append(problems, "appointmentId")
	}
	if e.PatientID <= 0 {
		problems = append(problems, "patientId")
	}
	if strings.TrimSpace(e.PatientName) == "" {
		problems = append(problems, "patientName")
	}
	if strings.TrimSpace(e.PatientEmail) == "" {
		problems = append(problems, "patientEmail")
	}
	if e.DoctorID <= 0 {
		problems = append(problems, "doctorId")
	}
	if strings.TrimSpace(e.DoctorName) == "" {
		problems = append(problems, "doctorName")
	}
	if e.AppointmentDate.IsZero() {
		problems = append(problems, "appointmentDate")
	}
	if !e.EventType.Valid() {
		problems = append(problems, "eventType")
	}
	if e.Cancelled && e.EventType != Updated {
		problems = append(problems, "cancelled")
	}
	if e.Version < 0 {
		problems = append(problems, "version")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: bad fields %s", ErrInvalidEvent, strings.Join(problems, ","))
	}
	return nil
}

// IsCancellation reports whether the event carries the cancellation signal.
func (e AppointmentEvent) IsCancellation() bool {
	return e.EventType == Updated && e.Cancelled
}

// wire pins the timestamp layout; time.Time's default marshaller would emit
// the local offset of whichever process produced it.
type wire struct {
	AppointmentID   int64  `json:"appointmentId"`
	PatientID       int64  `json:"patientId"`
	PatientName     string `json:"patientName"`
	PatientEmail    string `json:"patientEmail"`
	DoctorID        int64  `json:"doctorId"`
	DoctorName      string `json:"doctorName"`
	AppointmentDate string `json:"appointmentDate"`
	EventType       Type   `json:"eventType"`
	Cancelled       bool   `json:"cancelled,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Version         int64  `json:"version,omitempty"`
	OccurredAt      string `json:"occurredAt,omitempty"`
}

// Encode validates evt and renders it as JSON with UTC RFC 3339 timestamps.
func Encode(evt AppointmentEvent) ([]byte, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	w := wire{
		AppointmentID:   evt.AppointmentID,
		PatientID:       evt.PatientID,
		PatientName:     evt.PatientName,
		PatientEmail:    evt.PatientEmail,
		DoctorID:        evt.DoctorID,
		DoctorName:      evt.DoctorName,
		AppointmentDate: formatTime(evt.AppointmentDate),
		EventType:       evt.EventType,
		Cancelled:       evt.Cancelled,
		Notes:           evt.Notes,
		Version:         evt.Version,
	}
	if !evt.OccurredAt.IsZero() {
		w.OccurredAt = formatTime(evt.OccurredAt)
	}
	return json.Marshal(w)
}

// Decode parses and validates a payload. Unknown fields are ignored and the
// legacy CANCELLED type is folded into UPDATED with the cancellation signal.
func Decode(data []byte) (AppointmentEvent, error) {
	var w wire
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return AppointmentEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	evt := AppointmentEvent{
		AppointmentID: w.AppointmentID,
		PatientID:     w.PatientID,
		PatientName:   w.PatientName,
		PatientEmail:  w.PatientEmail,
		DoctorID:      w.DoctorID,
		DoctorName:    w.DoctorName,
		EventType:     Type(strings.ToUpper(strings.TrimSpace(string(w.EventType)))),
		Cancelled:     w.Cancelled,
		Notes:         w.Notes,
		Version:       w.Version,
	}
	if evt.EventType == legacyCancelled {
		evt.EventType = Updated
		evt.Cancelled = true
	}

	var err error
	if w.AppointmentDate != "" {
		if evt.AppointmentDate, err = parseTime(w.AppointmentDate); err != nil {
			return AppointmentEvent{}, fmt.Errorf("%w: appointmentDate: %v", ErrInvalidEvent, err)
		}
	}
	if w.OccurredAt != "" {
		if evt.OccurredAt, err = parseTime(w.OccurredAt); err != nil {
			return AppointmentEvent{}, fmt.Errorf("%w: occurredAt: %v", ErrInvalidEvent, err)
		}
	}

	if err := evt.Validate(); err != nil {
		return AppointmentEvent{}, err
	}
	return evt, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
