package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carelink/apptpipeline/libs/httpx"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/appointments"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/model"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type AppointmentService interface {
	Create(ctx context.Context, in appointments.CreateInput) (model.Appointment, error)
	Get(ctx context.Context, id int64) (model.Appointment, error)
	ListByPatient(ctx context.Context, patientID int64, futureOnly bool) ([]model.Appointment, error)
	Update(ctx context.Context, id int64, in appointments.UpdateInput) (model.Appointment, error)
	Delete(ctx context.Context, id int64) error
}

type AppointmentHandler struct {
	svc      AppointmentService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewAppointmentHandler(svc AppointmentService, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes mounts the appointment API.
func (h *AppointmentHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/appointments", h.Create)
	r.Get("/api/v1/appointments/{id}", h.Get)
	r.Put("/api/v1/appointments/{id}", h.Update)
	r.Delete("/api/v1/appointments/{id}", h.Delete)
	r.Get("/api/v1/patients/{id}/appointments", h.ListByPatient)
	return r
}

type createAppointmentRequest struct {
	PatientID       int64     `json:"patient_id" validate:"required,gt=0"`
	PatientName     string    `json:"patient_name" validate:"required,max=200"`
	PatientEmail    string    `json:"patient_email" validate:"required,email"`
	DoctorID        int64     `json:"doctor_id" validate:"required,gt=0"`
	DoctorName      string    `json:"doctor_name" validate:"required,max=200"`
	AppointmentDate time.Time `json:"appointment_date" validate:"required"`
	Notes           string    `json:"notes" validate:"max=500"`
}

type updateAppointmentRequest struct {
	AppointmentDate *time.Time `json:"appointment_date"`
	Notes           *string    `json:"notes" validate:"omitempty,max=500"`
	Status          *string    `json:"status" validate:"omitempty,oneof=SCHEDULED COMPLETED CANCELLED"`
}

type appointmentResponse struct {
	ID              int64  `json:"id"`
	PatientID       int64  `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email"`
	DoctorID        int64  `json:"doctor_id"`
	DoctorName      string `json:"doctor_name"`
	AppointmentDate string `json:"appointment_date"`
	Notes           string `json:"notes,omitempty"`
	Status          string `json:"status"`
	Version         int64  `json:"version"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PatientName:     a.PatientName,
		PatientEmail:    a.PatientEmail,
		DoctorID:        a.DoctorID,
		DoctorName:      a.DoctorName,
		AppointmentDate: a.AppointmentDate.UTC().Format(time.RFC3339),
		Notes:           a.Notes,
		Status:          string(a.Status),
		Version:         a.Version,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientEmail = strings.TrimSpace(req.PatientEmail)
	req.DoctorName = strings.TrimSpace(req.DoctorName)
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	appt, err := h.svc.Create(r.Context(), appointments.CreateInput{
		PatientID:       req.PatientID,
		PatientName:     req.PatientName,
		PatientEmail:    req.PatientEmail,
		DoctorID:        req.DoctorID,
		DoctorName:      req.DoctorName,
		AppointmentDate: req.AppointmentDate,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	futureOnly := r.URL.Query().Get("future") == "true"
	list, err := h.svc.ListByPatient(r.Context(), id, futureOnly)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]appointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Status != nil {
		upper := strings.ToUpper(strings.TrimSpace(*req.Status))
		req.Status = &upper
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	in := appointments.UpdateInput{AppointmentDate: req.AppointmentDate, Notes: req.Notes}
	if req.Status != nil {
		status, err := model.ParseStatus(*req.Status)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		in.Status = &status
	}

	appt, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found")
	case errors.Is(err, appointments.ErrCancelled):
		httpx.WriteError(w, http.StatusConflict, "appointment_cancelled", err.Error())
	case errors.Is(err, appointments.ErrPastDate):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error("appointment request failed",
			"err", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
