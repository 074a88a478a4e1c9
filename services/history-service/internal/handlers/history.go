package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/carelink/apptpipeline/libs/httpx"
	"github.com/carelink/apptpipeline/services/history-service/internal/storage"
	"github.com/go-chi/chi/v5"
)

type HistoryQuery interface {
	Get(ctx context.Context, id int64) (storage.Record, error)
	ListByPatient(ctx context.Context, patientID int64, after *time.Time) ([]storage.Record, error)
	ListByDoctor(ctx context.Context, doctorID int64) ([]storage.Record, error)
	ListAll(ctx context.Context) ([]storage.Record, error)
}

type HistoryHandler struct {
	query  HistoryQuery
	logger *slog.Logger
	now    func() time.Time
}

func NewHistoryHandler(query HistoryQuery, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{query: query, logger: logger, now: time.Now}
}

func (h *HistoryHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/history", h.List)
	r.Get("/api/v1/history/{id}", h.Get)
	return r
}

type historyResponse struct {
	AppointmentID   int64  `json:"appointment_id"`
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

func toResponse(r storage.Record) historyResponse {
	return historyResponse{
		AppointmentID:   r.AppointmentID,
		PatientID:       r.PatientID,
		PatientName:     r.PatientName,
		PatientEmail:    r.PatientEmail,
		DoctorID:        r.DoctorID,
		DoctorName:      r.DoctorName,
		AppointmentDate: r.AppointmentDate.UTC().Format(time.RFC3339),
		Notes:           r.Notes,
		Status:          string(r.Status),
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return
	}
	rec, err := h.query.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "no history for appointment")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(rec))
}

// List serves ?patient_id= (optionally &future=true), ?doctor_id= or, with
// no filter, everything.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		recs []storage.Record
		err  error
	)
	switch {
	case q.Get("patient_id") != "":
		patientID, perr := strconv.ParseInt(q.Get("patient_id"), 10, 64)
		if perr != nil || patientID <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a positive integer")
			return
		}
		var after *time.Time
		if q.Get("future") == "true" {
			now := h.now()
			after = &now
		}
		recs, err = h.query.ListByPatient(r.Context(), patientID, after)
	case q.Get("doctor_id") != "":
		doctorID, perr := strconv.ParseInt(q.Get("doctor_id"), 10, 64)
		if perr != nil || doctorID <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a positive integer")
			return
		}
		recs, err = h.query.ListByDoctor(r.Context(), doctorID)
	default:
		recs, err = h.query.ListAll(r.Context())
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	out := make([]historyResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *HistoryHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("history query failed", "err", err, "path", r.URL.Path,
		"request_id", httpx.RequestIDFromContext(r.Context()))
	httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
