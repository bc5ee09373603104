package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-auth/internal/token"
)

type stubValidator struct {
	claims *token.Claims
	err    error
	seen   string
}

func (v *stubValidator) Verify(raw string) (*token.Claims, error) {
	v.seen = raw
	return v.claims, v.err
}

type stubSessions struct {
	active bool
	err    error
}

func (s stubSessions) SessionActive(context.Context, string) (bool, error) {
	return s.active, s.err
}

func protected(t *testing.T, mw *AuthMiddleware) (http.Handler, *bool) {
	t.Helper()
	called := false
	return mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "s1", claims.SessionID)
		w.WriteHeader(http.StatusNoContent)
	})), &called
}

func TestRequireAuth(t *testing.T) {
	claims := &token.Claims{SessionID: "s1"}

	tests := []struct {
		name      string
		validator *stubValidator
		sessions  sessionChecker
		prepare   func(r *http.Request)
		wantCode  int
		wantBody  string
		wantToken string
	}{
		{
			name:      "bearer header",
			validator: &stubValidator{claims: claims},
			prepare:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc.def.ghi") },
			wantCode:  http.StatusNoContent,
			wantToken: "abc.def.ghi",
		},
		{
			name:      "query parameter for event streams",
			validator: &stubValidator{claims: claims},
			prepare:   func(r *http.Request) { r.URL.RawQuery = "access_token=qqq" },
			wantCode:  http.StatusNoContent,
			wantToken: "qqq",
		},
		{
			name:      "missing token",
			validator: &stubValidator{claims: claims},
			prepare:   func(r *http.Request) {},
			wantCode:  http.StatusUnauthorized,
			wantBody:  "AUTH_REQUIRED",
		},
		{
			name:      "non bearer scheme",
			validator: &stubValidator{claims: claims},
			prepare:   func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") },
			wantCode:  http.StatusUnauthorized,
			wantBody:  "AUTH_REQUIRED",
		},
		{
			name:      "invalid token",
			validator: &stubValidator{err: errors.New("bad signature")},
			prepare:   func(r *http.Request) { r.Header.Set("Authorization", "bearer nope") },
			wantCode:  http.StatusUnauthorized,
			wantBody:  "INVALID_TOKEN",
		},
		{
			name:      "strict mode rejects revoked session",
			validator: &stubValidator{claims: claims},
			sessions:  stubSessions{active: false},
			prepare:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			wantCode:  http.StatusUnauthorized,
			wantBody:  "INVALID_TOKEN",
		},
		{
			name:      "strict mode store failure",
			validator: &stubValidator{claims: claims},
			sessions:  stubSessions{err: errors.New("db down")},
			prepare:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			wantCode:  http.StatusInternalServerError,
			wantBody:  "INTERNAL_ERROR",
		},
		{
			name:      "strict mode live session",
			validator: &stubValidator{claims: claims},
			sessions:  stubSessions{active: true},
			prepare:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			wantCode:  http.StatusNoContent,
			wantToken: "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := protected(t, NewAuthMiddleware(tt.validator, tt.sessions))

			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantCode == http.StatusNoContent, *called)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			if tt.wantToken != "" {
				assert.Equal(t, tt.wantToken, tt.validator.seen)
			}
		})
	}
}

func TestRecoveryAndSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestLoggingSetsRequestID(t *testing.T) {
	var seen string
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"X","message":"y"}}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
}

func TestCORSAllowsCSRFHeader(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/auth/refresh", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", CSRFHeader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
