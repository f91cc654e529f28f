package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// Handler exposes the current session and logout.
type Handler struct {
	revoker Revoker
	logger  *logging.Logger
}

func NewHandler(revoker Revoker, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{revoker: revoker, logger: logger}
}

// Routes mounts under /api/session.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Current)
	r.Post("/logout", h.Logout)
	return r
}

type currentResponse struct {
	Role Role   `json:"role"`
	ID   string `json:"id,omitempty"`
}

// Current returns the caller's session variant.
// GET /api/session
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	s := FromContext(r.Context())
	writeJSON(w, http.StatusOK, currentResponse{Role: s.Role(), ID: s.Subject()})
}

// Logout revokes the bearer token the request was made with.
// POST /api/session/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tok, ok := TokenFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, currentResponse{Role: RoleAnonymous})
		return
	}
	if h.revoker != nil {
		if err := h.revoker.Revoke(r.Context(), tok.ID, tok.ExpiresAt); err != nil {
			h.logger.Error("failed to revoke session token", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "logout failed, please retry"})
			return
		}
	}
	h.logger.Info("session ended", "role", FromContext(r.Context()).Role())
	writeJSON(w, http.StatusOK, currentResponse{Role: RoleAnonymous})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
