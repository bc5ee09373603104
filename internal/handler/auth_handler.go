package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"companion-auth/internal/middleware"
	"companion-auth/internal/model"
	"companion-auth/internal/service"
	"companion-auth/internal/token"
)

type authService interface {
	Guest(ctx context.Context, meta model.ClientMeta) (*model.AuthResult, error)
	Login(ctx context.Context, email string, password string, meta model.ClientMeta) (*model.AuthResult, error)
	Claim(ctx context.Context, accessToken string, email string, username string, password string, meta model.ClientMeta) (*model.AuthResult, error)
	Refresh(ctx context.Context, in service.RefreshInput) (*model.AuthResult, error)
	Logout(ctx context.Context, accessToken string)
	LogoutAll(ctx context.Context, claims *token.Claims) (int64, error)
	Me(ctx context.Context, claims *token.Claims) (*model.Identity, error)
	Sessions(ctx context.Context, claims *token.Claims) ([]model.SessionView, error)
}

var _ authService = (*service.AuthService)(nil)

type AuthHandler struct {
	service authService
	cookies CookieConfig
}

func NewAuthHandler(service authService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{service: service, cookies: cookies}
}

func (h *AuthHandler) Guest(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Guest(r.Context(), clientMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.writeIssued(w, http.StatusCreated, result)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(payload); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), payload.Email, payload.Password, clientMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.writeIssued(w, http.StatusOK, result)
}

func (h *AuthHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var payload model.ClaimRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validateRequest(payload); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.Claim(r.Context(), middleware.BearerToken(r),
		payload.Email, payload.Username, payload.Password, clientMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.writeIssued(w, http.StatusOK, result)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Refresh(r.Context(), service.RefreshInput{
		SessionID:     cookieValue(r, h.cookies.SIDName()),
		RefreshSecret: cookieValue(r, h.cookies.RefreshName()),
		CSRFCookie:    cookieValue(r, h.cookies.CSRFName()),
		CSRFHeader:    r.Header.Get(middleware.CSRFHeader),
		Meta:          clientMeta(r),
	})
	if err != nil {
		if terminalRefreshFailure(err) {
			h.cookies.clearSessionCookies(w)
		}
		writeError(w, r, err)
		return
	}

	h.writeIssued(w, http.StatusOK, result)
}

// Logout always succeeds; a missing, expired or malformed token only means
// there is no server-side session to revoke.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), middleware.BearerToken(r))
	h.cookies.clearSessionCookies(w)
	writeSuccess(w, http.StatusOK, model.LogoutResponse{LoggedOut: true})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrAuthRequired)
		return
	}

	revoked, err := h.service.LogoutAll(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.clearSessionCookies(w)
	writeSuccess(w, http.StatusOK, model.LogoutAllResponse{Revoked: revoked})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrAuthRequired)
		return
	}

	identity, err := h.service.Me(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, identity.View())
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrAuthRequired)
		return
	}

	sessions, err := h.service.Sessions(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.SessionList{Sessions: sessions})
}

func (h *AuthHandler) writeIssued(w http.ResponseWriter, status int, result *model.AuthResult) {
	h.cookies.setSessionCookies(w, result.Session, result.Secrets)
	writeSuccess(w, status, model.AuthResponse{
		TokenResponse: result.TokenResponse(),
		CSRFToken:     result.Secrets.CSRF,
	})
}

func terminalRefreshFailure(err error) bool {
	return errors.Is(err, model.ErrExpired) ||
		errors.Is(err, model.ErrRevoked) ||
		errors.Is(err, model.ErrBadRefresh)
}

const maxUserAgentBytes = 512

func clientMeta(r *http.Request) model.ClientMeta {
	return model.ClientMeta{
		UserAgent: truncateUTF8(strings.ToValidUTF8(r.UserAgent(), ""), maxUserAgentBytes),
		IP:        middleware.ClientIPFromRequest(r),
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
