package model

import "time"

type Session struct {
	ID          string
	UserID      string
	Username    string
	RefreshHash string
	CSRFHash    string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	ExpiresAt   time.Time
	Revoked     bool
	ReusedAt    *time.Time
	UserAgent   string
	IP          string
}

func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// ClientMeta is informational request context stored with a session.
type ClientMeta struct {
	UserAgent string
	IP        string
}

// Secrets are the raw values handed to the client once at session creation.
type Secrets struct {
	Refresh string
	CSRF    string
}

type SessionView struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IP         string     `json:"ip,omitempty"`
	Current    bool       `json:"current"`
}

func (s *Session) View(currentSID string) SessionView {
	return SessionView{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		ExpiresAt:  s.ExpiresAt,
		UserAgent:  s.UserAgent,
		IP:         s.IP,
		Current:    s.ID == currentSID,
	}
}

// AuthResult is what every successful credential-issuing operation produces.
type AuthResult struct {
	Identity    *Identity
	Session     *Session
	Secrets     Secrets
	AccessToken string
	ExpiresIn   time.Duration
}

func (r *AuthResult) TokenResponse() TokenResponse {
	return TokenResponse{
		AccessToken: r.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(r.ExpiresIn.Seconds()),
		User:        r.Identity.View(),
	}
}
