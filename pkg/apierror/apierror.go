// Package apierror holds the wire-level error used for request problems
// that happen before an auth operation runs.
package apierror

import (
	"fmt"
	"net/http"
)

type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

func BadRequest(message string, details string) *APIError {
	return New("BAD_REQUEST", message, details, http.StatusBadRequest)
}

func InvalidJSON() *APIError {
	return BadRequest("invalid JSON body", "")
}

func Validation(details string) *APIError {
	return New("VALIDATION_FAILED", "request validation failed", details, http.StatusBadRequest)
}

func ServiceUnavailable(details string) *APIError {
	return New("SERVICE_UNAVAILABLE", "dependency unavailable", details, http.StatusServiceUnavailable)
}
