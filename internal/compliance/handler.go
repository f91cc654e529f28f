package compliance

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

type eventQuerier interface {
	QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// Handler exposes the audit trail to reception staff.
type Handler struct {
	audit  eventQuerier
	logger *logging.Logger
}

func NewHandler(audit eventQuerier, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{audit: audit, logger: logger}
}

// List returns audit events for one appointment.
// GET /api/audit/{appointmentID}?event_type=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := session.FromContext(r.Context()).(session.Reception); !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "reception only"})
		return
	}
	q := r.URL.Query()
	filter := AuditFilter{
		AppointmentID: chi.URLParam(r, "appointmentID"),
		EventType:     AuditEventType(q.Get("event_type")),
		Limit:         50,
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "appointment_id", filter.AppointmentID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "please try again"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
