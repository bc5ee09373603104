package model

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

type LogoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

// AuthResponse is the body of every credential-issuing call. The CSRF value
// is also delivered as a path-scoped cookie, which page script cannot read.
type AuthResponse struct {
	TokenResponse
	CSRFToken string `json:"csrf_token"`
}

type SessionList struct {
	Sessions []SessionView `json:"sessions"`
}
