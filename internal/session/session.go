// Package session models the authenticated caller as a closed set of
// variants. Handlers switch on the concrete type instead of probing
// optional id fields.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role names a session variant on the wire.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleDentist   Role = "dentist"
	RolePatient   Role = "patient"
	RoleReception Role = "reception"
)

var (
	ErrUnknownRole = errors.New("session: unknown role")
	ErrMissingID   = errors.New("session: role requires an id")
)

// Session is one of Anonymous, Dentist, Patient or Reception.
type Session interface {
	Role() Role
	// Subject is the role-specific id; empty for Anonymous.
	Subject() string
	sealed()
}

type Anonymous struct{}

type Dentist struct{ ID string }

type Patient struct{ ID string }

type Reception struct{ ID string }

func (Anonymous) Role() Role      { return RoleAnonymous }
func (Anonymous) Subject() string { return "" }
func (Anonymous) sealed()         {}

func (d Dentist) Role() Role      { return RoleDentist }
func (d Dentist) Subject() string { return d.ID }
func (Dentist) sealed()           {}

func (p Patient) Role() Role      { return RolePatient }
func (p Patient) Subject() string { return p.ID }
func (Patient) sealed()           {}

func (r Reception) Role() Role      { return RoleReception }
func (r Reception) Subject() string { return r.ID }
func (Reception) sealed()           {}

// IsAnonymous reports whether s carries no identity.
func IsAnonymous(s Session) bool {
	if s == nil {
		return true
	}
	_, ok := s.(Anonymous)
	return ok
}

// Claims is the JWT payload minted by the auth service.
type Claims struct {
	Role      Role   `json:"role"`
	UserID    string `json:"userId,omitempty"`
	DentistID string `json:"dentistId,omitempty"`
	PatientID string `json:"patientId,omitempty"`
	jwt.RegisteredClaims
}

// FromClaims hydrates a session from verified token claims.
func FromClaims(c Claims) (Session, error) {
	role := Role(strings.ToLower(strings.TrimSpace(string(c.Role))))
	pick := func(ids ...string) string {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				return id
			}
		}
		return ""
	}

	var s Session
	switch role {
	case RoleDentist:
		s = Dentist{ID: pick(c.DentistID, c.Subject)}
	case RolePatient:
		s = Patient{ID: pick(c.PatientID, c.Subject)}
	case RoleReception:
		s = Reception{ID: pick(c.UserID, c.Subject)}
	case RoleAnonymous, "":
		return Anonymous{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, c.Role)
	}
	if s.Subject() == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingID, role)
	}
	return s, nil
}

// Token identifies the bearer token a session was hydrated from, so logout
// can revoke it.
type Token struct {
	ID        string
	ExpiresAt time.Time
}

type ctxKey string

const (
	sessionKey ctxKey = "clinic.session"
	tokenKey   ctxKey = "clinic.session_token"
)

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the attached session, or Anonymous.
func FromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey).(Session); ok && s != nil {
		return s
	}
	return Anonymous{}
}

// WithToken stores the bearer token metadata in ctx.
func WithToken(ctx context.Context, t Token) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}

// TokenFromContext extracts the bearer token metadata if present.
func TokenFromContext(ctx context.Context) (Token, bool) {
	t, ok := ctx.Value(tokenKey).(Token)
	return t, ok && t.ID != ""
}
