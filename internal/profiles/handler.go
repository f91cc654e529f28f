package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// Store is the persistence behind the handlers.
type Store interface {
	GetDentistProfile(ctx context.Context, dentistID string) (*DentistProfile, error)
	CreateDentistProfile(ctx context.Context, dentistID string, req ProfileRequest) (*DentistProfile, error)
	UpdateDentistProfile(ctx context.Context, dentistID string, req ProfileRequest) (*DentistProfile, error)
	ListPatients(ctx context.Context, q PatientQuery) (*PatientPage, error)
}

type Handler struct {
	store  Store
	logger *logging.Logger
}

func NewHandler(store Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// GetDentistProfile returns the profile to the dentist or reception.
// GET /api/dentists/{dentistID}/profile
func (h *Handler) GetDentistProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "dentistID")
	switch s := session.FromContext(r.Context()).(type) {
	case session.Reception:
	case session.Dentist:
		if s.ID != id {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	default:
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	p, err := h.store.GetDentistProfile(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "get", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dentist": p})
}

// CreateDentistProfile POST /api/dentists/{dentistID}/profile
func (h *Handler) CreateDentistProfile(w http.ResponseWriter, r *http.Request) {
	h.saveProfile(w, r, true)
}

// UpdateDentistProfile PUT /api/dentists/{dentistID}/profile
func (h *Handler) UpdateDentistProfile(w http.ResponseWriter, r *http.Request) {
	h.saveProfile(w, r, false)
}

func (h *Handler) saveProfile(w http.ResponseWriter, r *http.Request, create bool) {
	id := chi.URLParam(r, "dentistID")
	d, ok := session.FromContext(r.Context()).(session.Dentist)
	if !ok || d.ID != id {
		writeError(w, http.StatusForbidden, "dentists may only edit their own profile")
		return
	}

	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Normalize(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "All fields are required.", "error": err})
		return
	}

	var (
		p   *DentistProfile
		err error
	)
	status, action := http.StatusOK, "update"
	if create {
		p, err = h.store.CreateDentistProfile(r.Context(), id, req)
		status, action = http.StatusCreated, "create"
	} else {
		p, err = h.store.UpdateDentistProfile(r.Context(), id, req)
	}
	if err != nil {
		h.writeStoreError(w, action, id, err)
		return
	}
	h.logger.Info("dentist profile saved", "dentist_id", id, "action", action)
	writeJSON(w, status, map[string]any{"message": "Profile saved successfully.", "dentist": p})
}

// ListPatients serves the reception register.
// GET /api/patients?search=&sort=name|pid|age&order=asc|desc&page=&per_page=
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	if _, ok := session.FromContext(r.Context()).(session.Reception); !ok {
		writeError(w, http.StatusForbidden, "reception only")
		return
	}
	qs := r.URL.Query()
	q := PatientQuery{
		Search: qs.Get("search"),
		Sort:   SortKey(strings.ToLower(qs.Get("sort"))),
		Desc:   strings.EqualFold(qs.Get("order"), "desc"),
	}
	q.Page, _ = strconv.Atoi(qs.Get("page"))
	q.PerPage, _ = strconv.Atoi(qs.Get("per_page"))

	page, err := h.store.ListPatients(r.Context(), q.Normalize())
	if err != nil {
		h.logger.Error("failed to list patients", "error", err)
		writeError(w, http.StatusBadGateway, "Failed to fetch patients. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, action, dentistID string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "profile not found")
	case errors.Is(err, ErrAlreadyExists):
		writeError(w, http.StatusConflict, "profile already exists")
	default:
		h.logger.Error("dentist profile store failed", "action", action, "dentist_id", dentistID, "error", err)
		writeError(w, http.StatusBadGateway, "please try again")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
