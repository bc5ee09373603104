package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"companion-auth/internal/model"
)

const sessionColumns = `id, user_id, username, refresh_hash, csrf_hash, created_at, last_used_at,
	expires_at, revoked, reused_at, user_agent, ip`

type SessionRepo struct {
	pool Pool
}

func NewSessionRepo(pool Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const insertSessionSQL = `INSERT INTO sessions (` + sessionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func sessionArgs(s *model.Session) []any {
	return []any{
		s.ID, s.UserID, s.Username, s.RefreshHash, s.CSRFHash, s.CreatedAt, s.LastUsedAt,
		s.ExpiresAt, s.Revoked, s.ReusedAt, s.UserAgent, s.IP,
	}
}

func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	if _, err := r.pool.Exec(ctx, insertSessionSQL, sessionArgs(session)...); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by id").
			With("session_id", id).
			Wrap(err)
	}
	return session, nil
}

func (r *SessionRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND revoked = false AND expires_at > $2
		 ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list active sessions").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	sessions := make([]*model.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").With("operation", "scan session row").Wrap(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").With("operation", "iterate session rows").Wrap(err)
	}
	return sessions, nil
}

func (r *SessionRepo) Rotate(ctx context.Context, oldID string, usedAt time.Time, next *model.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("operation", "begin rotation").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET revoked = true, last_used_at = $2
		 WHERE id = $1 AND revoked = false`, oldID, usedAt)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "revoke rotated session").
			With("session_id", oldID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionAlreadyRevoked
	}

	if _, err := tx.Exec(ctx, insertSessionSQL, sessionArgs(next)...); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "insert rotated session").
			With("session_id", oldID).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "commit rotation").
			With("session_id", oldID).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET revoked = true WHERE id = $1 AND revoked = false`, id)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session").
			With("session_id", id).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked = true WHERE user_id = $1 AND revoked = false`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke all sessions").
			With("user_id", userID).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) MarkReused(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET reused_at = $2 WHERE id = $1 AND revoked = true`, id, at)
	if err != nil {
		return oops.Code("SESSION_MARK_REUSED_FAILED").
			With("operation", "mark session reused").
			With("session_id", id).
			Wrap(err)
	}
	return nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.UserID, &s.Username, &s.RefreshHash, &s.CSRFHash, &s.CreatedAt,
		&s.LastUsedAt, &s.ExpiresAt, &s.Revoked, &s.ReusedAt, &s.UserAgent, &s.IP)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
