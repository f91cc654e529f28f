package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// DetailsFetcher loads appointment details for ownership checks and PDFs.
type DetailsFetcher interface {
	Details(ctx context.Context, appointmentID string) (*appointments.Details, error)
}

// Handler serves the invoice endpoints.
type Handler struct {
	service    *Service
	details    DetailsFetcher
	clinicName string
	currency   string
	logger     *logging.Logger
}

func NewHandler(service *Service, details DetailsFetcher, clinicName, currency string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, details: details, clinicName: clinicName, currency: currency, logger: logger}
}

// Routes mounts under /api/invoices.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{appointmentID}", h.Get)
	r.Put("/{appointmentID}", h.Update)
	r.Put("/{appointmentID}/pay", h.MarkPaid)
	r.Get("/{appointmentID}/pdf", h.PDF)
	return r
}

type lookupResponse struct {
	Lookup
	Notice *Notice `json:"notice,omitempty"`
}

// Get returns the invoice state for an appointment.
// GET /api/invoices/{appointmentID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	if _, ok := h.authorize(w, r, id); !ok {
		return
	}

	lookup, err := h.service.Load(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load invoice", "appointment_id", id, "error", err)
		h.writeNotice(w, NoticeFor(err))
		return
	}
	resp := lookupResponse{Lookup: lookup}
	if lookup.State == StateNoInvoice {
		n := NoticeFor(ErrNotFound)
		resp.Notice = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create posts a new invoice, or updates one that already exists.
// POST /api/invoices
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !requireReception(w, r) {
		return
	}
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	h.save(w, r, req)
}

// Update replaces an invoice's date and items.
// PUT /api/invoices/{appointmentID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if !requireReception(w, r) {
		return
	}
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.AppointmentID = chi.URLParam(r, "appointmentID")
	h.save(w, r, req)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, req SaveRequest) {
	inv, created, err := h.service.Save(r.Context(), req)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			h.logger.Error("failed to save invoice", "appointment_id", req.AppointmentID, "error", err)
		}
		h.writeNotice(w, NoticeFor(err))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, inv)
}

// MarkPaid records a payment taken outside the gateway. The
// Idempotency-Key header makes retries safe.
// PUT /api/invoices/{appointmentID}/pay
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	if !requireReception(w, r) {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Idempotency-Key header required"})
		return
	}
	id := chi.URLParam(r, "appointmentID")
	inv, err := h.service.MarkPaid(r.Context(), id, key, "desk")
	if err != nil {
		h.logger.Warn("failed to mark invoice paid", "appointment_id", id, "error", err)
		h.writeNotice(w, NoticeFor(err))
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// PDF streams the printable invoice.
// GET /api/invoices/{appointmentID}/pdf
func (h *Handler) PDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	details, ok := h.authorize(w, r, id)
	if !ok {
		return
	}
	if details == nil && h.details != nil {
		d, err := h.details.Details(r.Context(), id)
		if err != nil {
			h.writeNotice(w, NoticeFor(err))
			return
		}
		details = d
	}

	lookup, err := h.service.Load(r.Context(), id)
	if err == nil && lookup.Invoice == nil {
		err = ErrNotFound
	}
	if err != nil {
		h.writeNotice(w, NoticeFor(err))
		return
	}

	data, err := RenderPDFBytes(Document{
		ClinicName: h.clinicName,
		Currency:   h.currency,
		Invoice:    lookup.Invoice,
		Details:    details,
	})
	if err != nil {
		h.logger.Error("failed to render invoice pdf", "appointment_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to render invoice"})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="invoice-`+id+`.pdf"`)
	_, _ = w.Write(data)
}

// authorize lets reception through and checks ownership for everyone
// else. Details are returned when they had to be fetched.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, appointmentID string) (*appointments.Details, bool) {
	s := session.FromContext(r.Context())
	if _, ok := s.(session.Reception); ok {
		return nil, true
	}
	if session.IsAnonymous(s) || h.details == nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return nil, false
	}
	d, err := h.details.Details(r.Context(), appointmentID)
	if err != nil {
		h.writeNotice(w, NoticeFor(err))
		return nil, false
	}
	if !appointments.CanView(s, d.Appointment) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "appointment not found"})
		return nil, false
	}
	return d, true
}

func requireReception(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := session.FromContext(r.Context()).(session.Reception); !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "reception only"})
		return false
	}
	return true
}

func (h *Handler) writeNotice(w http.ResponseWriter, n Notice) {
	writeJSON(w, n.Status, map[string]any{"notice": n})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
