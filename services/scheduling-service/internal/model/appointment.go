package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown appointment status %q", raw)
	}
}

type Appointment struct {
	ID              int64
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
	DeletedAt       *time.Time
}

func (a Appointment) Cancelled() bool {
	return a.Status == StatusCancelled
}
