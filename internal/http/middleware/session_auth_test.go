package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
)

const testSecret = "test-secret"

func signedSessionToken(t *testing.T, secret string, claims session.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func patientClaims(id, jti string) session.Claims {
	return session.Claims{
		Role:      session.RolePatient,
		PatientID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func captureSession(got *session.Session, tok *session.Token) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = session.FromContext(r.Context())
		if tok != nil {
			*tok, _ = session.TokenFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionJWTAnonymousWithoutHeader(t *testing.T) {
	var got session.Session
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()

	SessionJWT(testSecret, nil, nil)(captureSession(&got, nil)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !session.IsAnonymous(got) {
		t.Fatalf("expected anonymous session, got %#v", got)
	}
}

func TestSessionJWTHydratesVariant(t *testing.T) {
	var got session.Session
	var tok session.Token
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+signedSessionToken(t, testSecret, patientClaims("P-1", "jti-1")))
	rec := httptest.NewRecorder()

	SessionJWT(testSecret, session.NewMemoryRevoker(), nil)(captureSession(&got, &tok)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if p, ok := got.(session.Patient); !ok || p.ID != "P-1" {
		t.Fatalf("expected patient P-1, got %#v", got)
	}
	if tok.ID != "jti-1" || tok.ExpiresAt.IsZero() {
		t.Fatalf("expected token metadata, got %#v", tok)
	}
}

func TestSessionJWTRejectsBadTokens(t *testing.T) {
	cases := map[string]string{
		"wrong secret": "Bearer " + signedSessionToken(t, "wrong", patientClaims("P-1", "")),
		"not bearer":   "Basic abc",
		"garbage":      "Bearer not-a-jwt",
		"unknown role": "Bearer " + signedSessionToken(t, testSecret, session.Claims{Role: "admin", UserID: "U-1"}),
		"missing id":   "Bearer " + signedSessionToken(t, testSecret, session.Claims{Role: session.RoleDentist}),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()

			SessionJWT(testSecret, nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(rec, req)

			if called {
				t.Fatal("handler should not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

func TestSessionJWTRejectsRevokedToken(t *testing.T) {
	revoker := session.NewMemoryRevoker()
	if err := revoker.Revoke(context.Background(), "jti-9", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+signedSessionToken(t, testSecret, patientClaims("P-1", "jti-9")))
	rec := httptest.NewRecorder()

	SessionJWT(testSecret, revoker, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

type failingRevoker struct{}

func (failingRevoker) Revoke(context.Context, string, time.Time) error { return nil }
func (failingRevoker) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestSessionJWTRevocationUnavailable(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+signedSessionToken(t, testSecret, patientClaims("P-1", "jti-1")))
	rec := httptest.NewRecorder()

	SessionJWT(testSecret, failingRevoker{}, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := RequireRole(session.RoleReception)

	cases := []struct {
		name string
		s    session.Session
		want int
	}{
		{"anonymous", session.Anonymous{}, http.StatusUnauthorized},
		{"patient", session.Patient{ID: "P-1"}, http.StatusForbidden},
		{"reception", session.Reception{ID: "R-1"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/patients", nil)
			req = req.WithContext(session.WithSession(req.Context(), tc.s))
			rec := httptest.NewRecorder()
			mw(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
