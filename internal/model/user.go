package model

import "time"

type AuthType string

const (
	AuthTypeGuest    AuthType = "guest"
	AuthTypePassword AuthType = "password"
)

const GuestUsernamePrefix = "guest_"

type Identity struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	Email        *string           `json:"email,omitempty"`
	PasswordHash *string           `json:"-"`
	AuthType     AuthType          `json:"auth_type"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpgradedAt   *time.Time        `json:"upgraded_at,omitempty"`
}

func (i *Identity) IsGuest() bool {
	return i.AuthType == AuthTypeGuest
}

// HasPassword reports whether the identity can log in with a password.
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != nil && *i.PasswordHash != ""
}

type AuthUser struct {
	ID         string            `json:"id"`
	Username   string            `json:"username"`
	Email      string            `json:"email,omitempty"`
	AuthType   AuthType          `json:"auth_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpgradedAt *time.Time        `json:"upgraded_at,omitempty"`
}

func (i *Identity) View() AuthUser {
	user := AuthUser{
		ID:         i.ID,
		Username:   i.Username,
		AuthType:   i.AuthType,
		Metadata:   i.Metadata,
		CreatedAt:  i.CreatedAt,
		UpgradedAt: i.UpgradedAt,
	}
	if i.Email != nil {
		user.Email = *i.Email
	}
	return user
}

type TokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	User        AuthUser `json:"user"`
}
