package appointments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// Handler serves appointment lists and details.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// ByPatient lists a patient's appointments.
// GET /api/patients/{patientID}/appointments
func (h *Handler) ByPatient(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	switch s := session.FromContext(r.Context()).(type) {
	case session.Reception:
	case session.Patient:
		if s.ID != patientID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	default:
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	p, err := h.service.ByPatient(r.Context(), patientID)
	if err != nil {
		h.logger.Error("failed to list patient appointments", "patient_id", patientID, "error", err)
		writeError(w, http.StatusBadGateway, "unable to load appointments, please try again")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ByDentist lists a dentist's appointments.
// GET /api/dentists/{dentistID}/appointments
func (h *Handler) ByDentist(w http.ResponseWriter, r *http.Request) {
	dentistID := chi.URLParam(r, "dentistID")
	switch s := session.FromContext(r.Context()).(type) {
	case session.Reception:
	case session.Dentist:
		if s.ID != dentistID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	default:
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	p, err := h.service.ByDentist(r.Context(), dentistID)
	if err != nil {
		h.logger.Error("failed to list dentist appointments", "dentist_id", dentistID, "error", err)
		writeError(w, http.StatusBadGateway, "unable to load appointments, please try again")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// All lists every appointment for reception.
// GET /api/appointments
func (h *Handler) All(w http.ResponseWriter, r *http.Request) {
	if _, ok := session.FromContext(r.Context()).(session.Reception); !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	p, err := h.service.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list appointments", "error", err)
		writeError(w, http.StatusBadGateway, "unable to load appointments, please try again")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Details returns one appointment with patient and dentist.
// GET /api/appointments/{appointmentID}
func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	d, err := h.service.Details(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	case err != nil:
		h.logger.Error("failed to load appointment details", "appointment_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "unable to load appointment, please try again")
		return
	}
	if !CanView(session.FromContext(r.Context()), d.Appointment) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
