package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-auth/internal/database"
	"companion-auth/internal/model"
	"companion-auth/internal/repository"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 123000, time.UTC)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.DialectSQLite))
	return db
}

func guest(id string) *model.Identity {
	return &model.Identity{
		ID:        id,
		Username:  model.GuestUsernamePrefix + id,
		AuthType:  model.AuthTypeGuest,
		CreatedAt: baseTime,
	}
}

func session(id, userID string) *model.Session {
	return &model.Session{
		ID:          id,
		UserID:      userID,
		Username:    model.GuestUsernamePrefix + userID,
		RefreshHash: "refresh-" + id,
		CSRFHash:    "csrf-" + id,
		CreatedAt:   baseTime,
		ExpiresAt:   baseTime.Add(90 * 24 * time.Hour),
		UserAgent:   "go-test",
		IP:          "198.51.100.7",
	}
}

func strPtr(s string) *string { return &s }

func claimed(id, email string) *model.Identity {
	upgraded := baseTime.Add(time.Hour)
	return &model.Identity{
		ID:           id,
		Username:     "user-" + id,
		Email:        strPtr(email),
		PasswordHash: strPtr("$argon2id$" + id),
		AuthType:     model.AuthTypePassword,
		Metadata:     map[string]string{"role": "operator"},
		UpgradedAt:   &upgraded,
	}
}

func TestIdentityRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepo(newTestDB(t))

	require.NoError(t, repo.Create(ctx, guest("u1")))

	got, err := repo.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, guest("u1"), got)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrIdentityNotFound)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, repository.ErrIdentityNotFound)
}

func TestIdentityRepo_Claim(t *testing.T) {
	ctx := context.Background()
	repo := NewIdentityRepo(newTestDB(t))

	require.NoError(t, repo.Create(ctx, guest("u1")))
	require.NoError(t, repo.Create(ctx, guest("u2")))

	require.NoError(t, repo.Claim(ctx, claimed("u1", "ada@example.com")))

	got, err := repo.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, model.AuthTypePassword, got.AuthType)
	assert.Equal(t, "operator", got.Metadata["role"])
	require.NotNil(t, got.UpgradedAt)
	assert.Equal(t, baseTime.Add(time.Hour), *got.UpgradedAt)

	err = repo.Claim(ctx, claimed("u2", "ada@example.com"))
	require.ErrorIs(t, err, repository.ErrEmailTaken)

	err = repo.Claim(ctx, claimed("u1", "other@example.com"))
	require.ErrorIs(t, err, repository.ErrNotClaimable)

	other, err := repo.GetByID(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.IsGuest())
}

func TestSessionRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	identities := NewIdentityRepo(db)
	sessions := NewSessionRepo(db)

	require.NoError(t, identities.Create(ctx, guest("u1")))
	require.NoError(t, sessions.Create(ctx, session("a", "u1")))
	require.NoError(t, sessions.Create(ctx, session("b", "u1")))

	got, err := sessions.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, session("a", "u1"), got)

	usedAt := baseTime.Add(time.Minute)
	next := session("c", "u1")
	next.CreatedAt = usedAt
	require.NoError(t, sessions.Rotate(ctx, "a", usedAt, next))

	old, err := sessions.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.LastUsedAt)
	assert.Equal(t, usedAt, *old.LastUsedAt)
	assert.Equal(t, "refresh-a", old.RefreshHash)

	err = sessions.Rotate(ctx, "a", usedAt, session("d", "u1"))
	require.ErrorIs(t, err, repository.ErrSessionAlreadyRevoked)
	_, err = sessions.GetByID(ctx, "d")
	require.ErrorIs(t, err, repository.ErrSessionNotFound)

	active, err := sessions.ListActiveByUser(ctx, "u1", usedAt)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "c", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	require.NoError(t, sessions.MarkReused(ctx, "a", usedAt))
	require.NoError(t, sessions.MarkReused(ctx, "b", usedAt))
	old, err = sessions.GetByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, old.ReusedAt)
	b, err := sessions.GetByID(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, b.ReusedAt)

	n, err := sessions.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, sessions.Revoke(ctx, "b"))

	active, err = sessions.ListActiveByUser(ctx, "u1", usedAt)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSessionRepo_ListSkipsExpired(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, NewIdentityRepo(db).Create(ctx, guest("u1")))
	sessions := NewSessionRepo(db)

	s := session("a", "u1")
	require.NoError(t, sessions.Create(ctx, s))

	active, err := sessions.ListActiveByUser(ctx, "u1", s.ExpiresAt)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSessionRepo_ConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, NewIdentityRepo(db).Create(ctx, guest("u1")))
	sessions := NewSessionRepo(db)
	require.NoError(t, sessions.Create(ctx, session("a", "u1")))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		revoked int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := sessions.Rotate(ctx, "a", baseTime, session(fmt.Sprintf("next-%d", i), "u1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, repository.ErrSessionAlreadyRevoked):
				revoked++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, revoked)

	active, err := sessions.ListActiveByUser(ctx, "u1", baseTime)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSessionRepo_StoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("rotate rolls back when insert fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE sessions SET revoked = 1, last_used_at`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO sessions`).
			WillReturnError(errors.New("disk I/O error"))
		mock.ExpectRollback()

		err = NewSessionRepo(db).Rotate(ctx, "a", baseTime, session("b", "u1"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, repository.ErrSessionAlreadyRevoked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoke all surfaces exec failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`UPDATE sessions SET revoked = 1 WHERE user_id`).
			WithArgs("u1").
			WillReturnError(errors.New("database is locked"))

		_, err = NewSessionRepo(db).RevokeAllForUser(ctx, "u1")
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get surfaces query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FROM identities WHERE id = \?`).
			WithArgs("u1").
			WillReturnError(errors.New("database is locked"))

		_, err = NewIdentityRepo(db).GetByID(ctx, "u1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, repository.ErrIdentityNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
