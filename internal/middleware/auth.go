package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"companion-auth/internal/token"
)

type tokenValidator interface {
	Verify(raw string) (*token.Claims, error)
}

// sessionChecker backs the optional strict mode: a token is only accepted
// while the session it was minted for is still live.
type sessionChecker interface {
	SessionActive(ctx context.Context, sid string) (bool, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

// AccessTokenQueryParam carries the token for EventSource clients, which
// cannot set an Authorization header.
const AccessTokenQueryParam = "access_token"

type AuthMiddleware struct {
	validator tokenValidator
	sessions  sessionChecker
}

// NewAuthMiddleware builds the middleware. A nil sessions disables the
// strict liveness check.
func NewAuthMiddleware(validator tokenValidator, sessions sessionChecker) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, sessions: sessions}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := BearerToken(r)
		if raw == "" {
			raw = strings.TrimSpace(r.URL.Query().Get(AccessTokenQueryParam))
		}
		if raw == "" {
			writeUnauthorized(w, "AUTH_REQUIRED", "authentication required")
			return
		}

		claims, err := m.validator.Verify(raw)
		if err != nil {
			writeUnauthorized(w, "INVALID_TOKEN", "invalid or expired access token")
			return
		}

		if m.sessions != nil {
			active, err := m.sessions.SessionActive(r.Context(), claims.SessionID)
			if err != nil {
				slog.ErrorContext(r.Context(), "session liveness check failed", "session_id", claims.SessionID, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
				return
			}
			if !active {
				writeUnauthorized(w, "INVALID_TOKEN", "session is no longer active")
				return
			}
		}

		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken returns the token from an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*token.Claims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter, code string, message string) {
	writeJSONError(w, http.StatusUnauthorized, code, message)
}
