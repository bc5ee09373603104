package model

import (
	"errors"
	"fmt"
	"time"
)

type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindAuthRequired       ErrorKind = "auth_required"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindEmailInUse         ErrorKind = "email_in_use"
	KindAlreadyClaimed     ErrorKind = "already_claimed"
	KindNoRefresh          ErrorKind = "no_refresh"
	KindCSRFMismatch       ErrorKind = "csrf_mismatch"
	KindBadRefresh         ErrorKind = "bad_refresh"
	KindExpired            ErrorKind = "expired"
	KindRevoked            ErrorKind = "revoked"
	KindRateLimited        ErrorKind = "rate_limited"
	KindInvalidInput       ErrorKind = "invalid_input"
)

// AuthError is a terminal, user-visible failure of an auth operation.
// Two AuthErrors are considered equal by errors.Is when their kinds match.
type AuthError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials, Message: "invalid email or password"}
	ErrAuthRequired       = &AuthError{Kind: KindAuthRequired, Message: "authentication required"}
	ErrInvalidToken       = &AuthError{Kind: KindInvalidToken, Message: "invalid or expired access token"}
	ErrEmailInUse         = &AuthError{Kind: KindEmailInUse, Message: "email is already in use"}
	ErrAlreadyClaimed     = &AuthError{Kind: KindAlreadyClaimed, Message: "identity is already claimed"}
	ErrNoRefresh          = &AuthError{Kind: KindNoRefresh, Message: "refresh credentials missing"}
	ErrCSRFMismatch       = &AuthError{Kind: KindCSRFMismatch, Message: "csrf token mismatch"}
	ErrBadRefresh         = &AuthError{Kind: KindBadRefresh, Message: "refresh token is invalid"}
	ErrExpired            = &AuthError{Kind: KindExpired, Message: "session has expired"}
	ErrRevoked            = &AuthError{Kind: KindRevoked, Message: "session has been revoked"}
	ErrRateLimited        = &AuthError{Kind: KindRateLimited, Message: "too many requests"}
)

func NewRateLimited(retryAfter time.Duration) *AuthError {
	return &AuthError{Kind: KindRateLimited, Message: ErrRateLimited.Message, RetryAfter: retryAfter}
}

func NewInvalidInput(message string) *AuthError {
	return &AuthError{Kind: KindInvalidInput, Message: message}
}

// KindOf extracts the error kind, reporting false for errors outside the taxonomy.
func KindOf(err error) (ErrorKind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
