package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"companion-auth/internal/model"
	"companion-auth/internal/repository"
	"companion-auth/internal/security"
)

type SessionOption func(*SessionManager)

// WithSessionClock replaces time.Now for creation, rotation and expiry checks.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// SessionManager owns the session rows: it generates and hashes the secrets,
// and is the only writer of revoked.
type SessionManager struct {
	repo       repository.SessionRepository
	hasher     *security.Hasher
	refreshTTL time.Duration
	now        func() time.Time
	entropy    *ulid.LockedMonotonicReader
}

func NewSessionManager(repo repository.SessionRepository, hasher *security.Hasher, refreshTTL time.Duration, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		repo:       repo,
		hasher:     hasher,
		refreshTTL: refreshTTL,
		now:        time.Now,
		entropy:    &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SessionManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// Create persists a new session and returns its raw secrets. They cannot be
// recovered later.
func (m *SessionManager) Create(ctx context.Context, userID string, username string, meta model.ClientMeta) (*model.Session, model.Secrets, error) {
	session, secrets, err := m.newSession(userID, username, meta)
	if err != nil {
		return nil, model.Secrets{}, err
	}

	if err := m.repo.Create(ctx, session); err != nil {
		return nil, model.Secrets{}, fmt.Errorf("create session: %w", err)
	}
	return session, secrets, nil
}

// Rotate revokes old and creates its successor in one conditional write.
// It returns repository.ErrSessionAlreadyRevoked when old was no longer
// active at write time; nothing is created in that case.
func (m *SessionManager) Rotate(ctx context.Context, old *model.Session, meta model.ClientMeta) (*model.Session, model.Secrets, error) {
	next, secrets, err := m.newSession(old.UserID, old.Username, meta)
	if err != nil {
		return nil, model.Secrets{}, err
	}

	if err := m.repo.Rotate(ctx, old.ID, next.CreatedAt, next); err != nil {
		return nil, model.Secrets{}, err
	}
	return next, secrets, nil
}

func (m *SessionManager) Revoke(ctx context.Context, sid string) error {
	return m.repo.Revoke(ctx, sid)
}

func (m *SessionManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return m.repo.RevokeAllForUser(ctx, userID)
}

// Lookup returns repository.ErrSessionNotFound for an unknown sid.
func (m *SessionManager) Lookup(ctx context.Context, sid string) (*model.Session, error) {
	return m.repo.GetByID(ctx, sid)
}

// MarkReused stamps the replay signal on a revoked session. The stored
// refresh hash is left untouched so later replays are still recognised.
func (m *SessionManager) MarkReused(ctx context.Context, sid string) error {
	return m.repo.MarkReused(ctx, sid, m.now().UTC())
}

func (m *SessionManager) ListActive(ctx context.Context, userID string) ([]*model.Session, error) {
	return m.repo.ListActiveByUser(ctx, userID, m.now().UTC())
}

func (m *SessionManager) VerifyRefresh(session *model.Session, secret string) bool {
	return m.hasher.Verify(secret, session.RefreshHash)
}

func (m *SessionManager) VerifyCSRF(session *model.Session, csrf string) bool {
	return m.hasher.Verify(csrf, session.CSRFHash)
}

func (m *SessionManager) IsExpired(session *model.Session) bool {
	return session.IsExpiredAt(m.now())
}

func (m *SessionManager) newSession(userID string, username string, meta model.ClientMeta) (*model.Session, model.Secrets, error) {
	now := m.now().UTC().Truncate(time.Microsecond)

	id, err := ulid.New(ulid.Timestamp(now), m.entropy)
	if err != nil {
		return nil, model.Secrets{}, fmt.Errorf("generate session id: %w", err)
	}

	refresh, err := security.RandomSecret(security.MinSecretBytes)
	if err != nil {
		return nil, model.Secrets{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	csrf, err := security.RandomSecret(security.MinSecretBytes)
	if err != nil {
		return nil, model.Secrets{}, fmt.Errorf("generate csrf secret: %w", err)
	}

	refreshHash, err := m.hasher.Hash(refresh)
	if err != nil {
		return nil, model.Secrets{}, fmt.Errorf("hash refresh secret: %w", err)
	}
	csrfHash, err := m.hasher.Hash(csrf)
	if err != nil {
		return nil, model.Secrets{}, fmt.Errorf("hash csrf secret: %w", err)
	}

	session := &model.Session{
		ID:          id.String(),
		UserID:      userID,
		Username:    username,
		RefreshHash: refreshHash,
		CSRFHash:    csrfHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.refreshTTL),
		UserAgent:   meta.UserAgent,
		IP:          meta.IP,
	}
	return session, model.Secrets{Refresh: refresh, CSRF: csrf}, nil
}
