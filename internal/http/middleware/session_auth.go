package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/dental-clinic-platform/internal/session"
	"github.com/wolfman30/dental-clinic-platform/pkg/logging"
)

// SessionJWT hydrates a session from an HMAC-signed bearer token. Requests
// without a token continue as Anonymous; a bad or revoked token is
// rejected outright.
func SessionJWT(secret string, revoker session.Revoker, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), session.Anonymous{})))
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") || secret == "" {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			var claims session.Claims
			token, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			s, err := session.FromClaims(claims)
			if err != nil {
				logger.Warn("rejected session claims", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := session.WithSession(r.Context(), s)
			if claims.ID != "" {
				if revoker != nil {
					revoked, err := revoker.IsRevoked(r.Context(), claims.ID)
					if err != nil {
						logger.Error("revocation check failed", "error", err)
						writeAuthError(w, http.StatusServiceUnavailable, "session check unavailable")
						return
					}
					if revoked {
						writeAuthError(w, http.StatusUnauthorized, "session ended")
						return
					}
				}
				tok := session.Token{ID: claims.ID}
				if claims.ExpiresAt != nil {
					tok.ExpiresAt = claims.ExpiresAt.Time
				}
				ctx = session.WithToken(ctx, tok)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through only the listed session roles. Anonymous
// callers get 401, other roles 403.
func RequireRole(roles ...session.Role) func(http.Handler) http.Handler {
	allowed := make(map[session.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := session.FromContext(r.Context())
			if session.IsAnonymous(s) {
				writeAuthError(w, http.StatusUnauthorized, "sign in required")
				return
			}
			if _, ok := allowed[s.Role()]; !ok {
				writeAuthError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
