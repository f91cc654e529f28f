package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-clinic-platform/internal/compliance"
	"github.com/wolfman30/dental-clinic-platform/internal/profiles"
	"github.com/wolfman30/dental-clinic-platform/internal/session"
)

const secret = "router-secret"

type emptyPatients struct{}

func (emptyPatients) GetDentistProfile(context.Context, string) (*profiles.DentistProfile, error) {
	return nil, profiles.ErrNotFound
}
func (emptyPatients) CreateDentistProfile(context.Context, string, profiles.ProfileRequest) (*profiles.DentistProfile, error) {
	return nil, errors.New("unused")
}
func (emptyPatients) UpdateDentistProfile(context.Context, string, profiles.ProfileRequest) (*profiles.DentistProfile, error) {
	return nil, errors.New("unused")
}
func (emptyPatients) ListPatients(_ context.Context, q profiles.PatientQuery) (*profiles.PatientPage, error) {
	return &profiles.PatientPage{Patients: []profiles.PatientRecord{}, Page: q.Page, PerPage: q.PerPage}, nil
}

type noAudit struct{}

func (noAudit) QueryEvents(context.Context, compliance.AuditFilter) ([]compliance.AuditEvent, error) {
	return []compliance.AuditEvent{}, nil
}

func newTestRouter(t *testing.T, db Pinger) (http.Handler, *session.MemoryRevoker) {
	t.Helper()
	revoker := session.NewMemoryRevoker()
	reg := prometheus.NewRegistry()
	return New(&Config{
		Sessions:       session.NewHandler(revoker, nil),
		Profiles:       profiles.NewHandler(emptyPatients{}, nil),
		Audit:          compliance.NewHandler(noAudit{}, nil),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTSecret:      secret,
		Revoker:        revoker,
		Database:       db,
	}), revoker
}

func bearer(t *testing.T, claims session.Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func call(h http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, PingerFunc(func(context.Context) error { return nil }))
	rec := call(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])

	h, _ = newTestRouter(t, PingerFunc(func(context.Context) error { return errors.New("down") }))
	rec = call(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rec := call(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterSessionLifecycle(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := call(h, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"anonymous"`)

	token := bearer(t, session.Claims{
		Role:             session.RoleDentist,
		DentistID:        "D-1",
		RegisteredClaims: jwt.RegisteredClaims{ID: "jti-router"},
	})
	rec = call(h, http.MethodGet, "/api/session", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"dentist"`)
	assert.Contains(t, rec.Body.String(), `"id":"D-1"`)

	rec = call(h, http.MethodPost, "/api/session/logout", token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(h, http.MethodGet, "/api/session", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterRoleGuards(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	reception := bearer(t, session.Claims{Role: session.RoleReception, UserID: "R-1"})
	patient := bearer(t, session.Claims{Role: session.RolePatient, PatientID: "P-1"})

	cases := []struct {
		path string
		auth string
		want int
	}{
		{"/api/patients", "", http.StatusUnauthorized},
		{"/api/patients", patient, http.StatusForbidden},
		{"/api/patients", reception, http.StatusOK},
		{"/api/audit/A-1", patient, http.StatusForbidden},
		{"/api/audit/A-1", reception, http.StatusOK},
		{"/api/dentists/D-1/profile", patient, http.StatusForbidden},
		{"/api/dentists/D-1/profile", reception, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := call(h, http.MethodGet, tc.path, tc.auth)
		assert.Equal(t, tc.want, rec.Code, tc.path)
	}
}

func TestRouterUnmountedHandlers(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rec := call(h, http.MethodPost, "/webhooks/razorpay", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
