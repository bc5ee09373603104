//go:build integration

package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"companion-auth/internal/database"
	"companion-auth/internal/model"
	"companion-auth/internal/repository"
)

func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("auth"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.New(ctx, connStr, 8, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func newSession(id string, userID string, now time.Time) *model.Session {
	return &model.Session{
		ID:          id,
		UserID:      userID,
		Username:    "guest_" + userID,
		RefreshHash: "$argon2id$refresh-" + id,
		CSRFHash:    "$argon2id$csrf-" + id,
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
}

func TestPostgres_IdentityLifecycle(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := repository.NewIdentityRepo(db.Pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	guest := &model.Identity{ID: "9f1c3b7e-0000-4000-8000-000000000001", Username: "guest_1", AuthType: model.AuthTypeGuest, CreatedAt: now}
	other := &model.Identity{ID: "9f1c3b7e-0000-4000-8000-000000000002", Username: "guest_2", AuthType: model.AuthTypeGuest, CreatedAt: now}
	require.NoError(t, repo.Create(ctx, guest))
	require.NoError(t, repo.Create(ctx, other))

	email := "player@example.com"
	hash := "$argon2id$password"
	guest.Email = &email
	guest.PasswordHash = &hash
	guest.AuthType = model.AuthTypePassword
	guest.UpgradedAt = &now
	guest.Metadata = map[string]string{"role": "operator"}
	require.NoError(t, repo.Claim(ctx, guest))

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, guest.ID, got.ID)
	assert.Equal(t, "operator", got.Metadata["role"])

	require.ErrorIs(t, repo.Claim(ctx, guest), repository.ErrNotClaimable)

	other.Email = &email
	other.PasswordHash = &hash
	other.AuthType = model.AuthTypePassword
	other.UpgradedAt = &now
	require.ErrorIs(t, repo.Claim(ctx, other), repository.ErrEmailTaken)

	_, err = repo.GetByID(ctx, "9f1c3b7e-0000-4000-8000-00000000ffff")
	require.ErrorIs(t, err, repository.ErrIdentityNotFound)
}

func TestPostgres_ConcurrentRotateHasOneWinner(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	identities := repository.NewIdentityRepo(db.Pool)
	sessions := repository.NewSessionRepo(db.Pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := "9f1c3b7e-0000-4000-8000-000000000010"
	require.NoError(t, identities.Create(ctx, &model.Identity{ID: userID, Username: "guest_10", AuthType: model.AuthTypeGuest, CreatedAt: now}))
	require.NoError(t, sessions.Create(ctx, newSession("parent", userID, now)))

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := sessions.Rotate(ctx, "parent", now, newSession("child-"+string(rune('a'+i)), userID, now))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, repository.ErrSessionAlreadyRevoked):
				losers++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, racers-1, losers)

	active, err := sessions.ListActiveByUser(ctx, userID, now)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	parent, err := sessions.GetByID(ctx, "parent")
	require.NoError(t, err)
	assert.True(t, parent.Revoked)
	assert.Equal(t, "$argon2id$refresh-parent", parent.RefreshHash)

	require.NoError(t, sessions.MarkReused(ctx, "parent", now))
	n, err := sessions.RevokeAllForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgres_RevokedSessionCannotBeRevived(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := "9f1c3b7e-0000-4000-8000-000000000020"
	require.NoError(t, repository.NewIdentityRepo(db.Pool).Create(ctx,
		&model.Identity{ID: userID, Username: "guest_20", AuthType: model.AuthTypeGuest, CreatedAt: now}))

	sessions := repository.NewSessionRepo(db.Pool)
	require.NoError(t, sessions.Create(ctx, newSession("s1", userID, now)))
	require.NoError(t, sessions.Revoke(ctx, "s1"))
	require.NoError(t, sessions.Revoke(ctx, "s1"))

	_, err := db.Pool.Exec(ctx, `UPDATE sessions SET revoked = false WHERE id = 's1'`)
	require.Error(t, err)
}
