package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"companion-auth/internal/model"
	"companion-auth/internal/repository"
)

const sessionColumns = `id, user_id, username, refresh_hash, csrf_hash, created_at, last_used_at,
	expires_at, revoked, reused_at, user_agent, ip`

const insertSessionSQL = `INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func sessionArgs(s *model.Session) []any {
	return []any{
		s.ID, s.UserID, s.Username, s.RefreshHash, s.CSRFHash, toMicros(s.CreatedAt), nullMicros(s.LastUsedAt),
		toMicros(s.ExpiresAt), s.Revoked, nullMicros(s.ReusedAt), s.UserAgent, s.IP,
	}
}

func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	if _, err := r.db.ExecContext(ctx, insertSessionSQL, sessionArgs(session)...); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrSessionNotFound
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
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC`, userID, toMicros(now))
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
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("operation", "begin rotation").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET revoked = 1, last_used_at = ? WHERE id = ? AND revoked = 0`,
		toMicros(usedAt), oldID)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "revoke rotated session").
			With("session_id", oldID).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("operation", "rows affected").Wrap(err)
	}
	if n == 0 {
		return repository.ErrSessionAlreadyRevoked
	}

	if _, err := tx.ExecContext(ctx, insertSessionSQL, sessionArgs(next)...); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "insert rotated session").
			With("session_id", oldID).
			Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "commit rotation").
			With("session_id", oldID).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepo) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ? AND revoked = 0`, id)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session").
			With("session_id", id).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE user_id = ? AND revoked = 0`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke all sessions").
			With("user_id", userID).
			Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").With("operation", "rows affected").Wrap(err)
	}
	return n, nil
}

func (r *SessionRepo) MarkReused(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET reused_at = ? WHERE id = ? AND revoked = 1`, toMicros(at), id)
	if err != nil {
		return oops.Code("SESSION_MARK_REUSED_FAILED").
			With("operation", "mark session reused").
			With("session_id", id).
			Wrap(err)
	}
	return nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s                    model.Session
		createdAt, expiresAt int64
		lastUsedAt, reusedAt sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Username, &s.RefreshHash, &s.CSRFHash, &createdAt,
		&lastUsedAt, &expiresAt, &s.Revoked, &reusedAt, &s.UserAgent, &s.IP)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMicros(createdAt)
	s.ExpiresAt = fromMicros(expiresAt)
	s.LastUsedAt = timePtr(lastUsedAt)
	s.ReusedAt = timePtr(reusedAt)
	return &s, nil
}

var _ repository.SessionRepository = (*SessionRepo)(nil)
