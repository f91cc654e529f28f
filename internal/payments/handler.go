package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/dental-clinic-platform/internal/appointments"
	"github.com/wolfman30/dental-clinic-platform/internal/invoices"
	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// Handler serves the patient-facing payment endpoints.
type Handler struct {
	reconciler *Reconciler
	logger     *logging.Logger
}

func NewHandler(reconciler *Reconciler, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{reconciler: reconciler, logger: logger}
}

// Routes mounts under /api/payments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/confirm", h.Confirm)
	r.Get("/{appointmentID}", h.Snapshot)
	r.Post("/{appointmentID}/orders", h.CreateOrder)
	return r
}

type snapshotResponse struct {
	*Snapshot
	Notice *invoices.Notice `json:"notice,omitempty"`
}

// Snapshot returns the reconciled billing view for an appointment.
// GET /api/payments/{appointmentID}
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	s := session.FromContext(r.Context())
	if session.IsAnonymous(s) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	snap, err := h.reconciler.Load(r.Context(), id)
	if errors.Is(err, ErrStaleResult) {
		h.logger.Debug("discarding stale payment snapshot", "appointment_id", id)
		return
	}
	if err != nil {
		h.logger.Error("failed to load payment snapshot", "appointment_id", id, "error", err)
		n := NoticeFor(err)
		// The portal resets to an empty form on failure.
		writeJSON(w, n.Status, snapshotResponse{Snapshot: emptySnapshot(), Notice: &n})
		return
	}
	if !canAccess(s, snap.Details) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "appointment not found"})
		return
	}

	resp := snapshotResponse{Snapshot: snap}
	if snap.State == invoices.StateNoInvoice {
		n := NoticeFor(invoices.ErrNotFound)
		resp.Notice = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateOrder opens a gateway order for the patient's unpaid invoice.
// POST /api/payments/{appointmentID}/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentID")
	patient, ok := session.FromContext(r.Context()).(session.Patient)
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "patients only"})
		return
	}
	if !h.ownsAppointment(w, r, patient, id) {
		return
	}

	order, err := h.reconciler.InitiatePayment(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrOrderInFlight) {
			h.logger.Error("failed to create payment order", "appointment_id", id, "error", err)
		}
		writeNotice(w, NoticeFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type confirmRequest struct {
	AppointmentID string `json:"appointment_id"`
	OrderID       string `json:"razorpay_order_id"`
	PaymentID     string `json:"razorpay_payment_id"`
	Signature     string `json:"razorpay_signature"`
}

// Confirm is the checkout widget's success callback.
// POST /api/payments/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	patient, ok := session.FromContext(r.Context()).(session.Patient)
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "patients only"})
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "appointment_id, razorpay_order_id, razorpay_payment_id and razorpay_signature are required"})
		return
	}
	if !h.reconciler.Gateway().VerifyPayment(req.OrderID, req.PaymentID, req.Signature) {
		h.logger.Warn("payment confirmation signature rejected", "appointment_id", req.AppointmentID, "order_id", req.OrderID)
		writeNotice(w, NoticeFor(ErrInvalidSignature))
		return
	}
	if !h.ownsAppointment(w, r, patient, req.AppointmentID) {
		return
	}

	snap, err := h.reconciler.ConfirmPayment(r.Context(), Confirmation{
		AppointmentID: req.AppointmentID,
		OrderID:       req.OrderID,
		PaymentID:     req.PaymentID,
		Source:        "checkout",
	})
	if err != nil {
		n := NoticeFor(err)
		var mismatch *CaptureMismatchError
		if errors.As(err, &mismatch) {
			writeJSON(w, n.Status, map[string]any{"notice": n, "payment_id": req.PaymentID})
			return
		}
		writeNotice(w, n)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap})
}

func (h *Handler) ownsAppointment(w http.ResponseWriter, r *http.Request, s session.Session, appointmentID string) bool {
	d, err := h.reconciler.details.Details(r.Context(), appointmentID)
	if err != nil {
		writeNotice(w, NoticeFor(err))
		return false
	}
	if !canAccess(s, d) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "appointment not found"})
		return false
	}
	return true
}

func canAccess(s session.Session, d *appointments.Details) bool {
	if _, ok := s.(session.Reception); ok {
		return true
	}
	if d == nil {
		return false
	}
	return appointments.CanView(s, d.Appointment)
}

func emptySnapshot() *Snapshot {
	return &Snapshot{State: invoices.StateNoInvoice, Total: decimal.Zero}
}

func writeNotice(w http.ResponseWriter, n invoices.Notice) {
	writeJSON(w, n.Status, map[string]any{"notice": n})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
