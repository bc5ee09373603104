// Package repository defines identity and session persistence and implements
// it on PostgreSQL. The sqlite subpackage implements the same contracts on an
// embedded database for development and tests.
package repository

import (
	"context"
	"errors"
	"time"

	"companion-auth/internal/model"
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrEmailTaken is returned when a write would give two identities the same email.
	ErrEmailTaken = errors.New("email already taken")
	// ErrNotClaimable is returned when a claim targets an identity that is not a guest.
	ErrNotClaimable = errors.New("identity is not a guest")

	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyRevoked is returned by Rotate when the compare-and-set
	// on revoked=false lost, i.e. the session was revoked before or concurrently.
	ErrSessionAlreadyRevoked = errors.New("session already revoked")
)

type IdentityRepository interface {
	Create(ctx context.Context, identity *model.Identity) error
	GetByID(ctx context.Context, id string) (*model.Identity, error)
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	// Claim upgrades a guest row in place to the credentials carried by identity.
	Claim(ctx context.Context, identity *model.Identity) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Session, error)
	// Rotate atomically flips oldID from revoked=false to revoked=true and
	// inserts next. Nothing is written when the flip does not happen.
	Rotate(ctx context.Context, oldID string, usedAt time.Time, next *model.Session) error
	// Revoke is idempotent.
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	MarkReused(ctx context.Context, id string, at time.Time) error
}
