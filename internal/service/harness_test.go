package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"companion-auth/internal/database"
	"companion-auth/internal/event"
	"companion-auth/internal/model"
	"companion-auth/internal/ratelimit"
	"companion-auth/internal/repository/sqlite"
	"companion-auth/internal/security"
	"companion-auth/internal/token"
)

const (
	testTokenSecret = "test-token-secret-0123456789abcdef"
	testPepper      = "test-pepper-0123456789abcdef01234"
)

var testArgon2 = security.Argon2Params{Time: 1, Memory: 1024, Threads: 1}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	auth       *AuthService
	identities *IdentityService
	sessions   *SessionManager
	tokens     *token.Issuer
	bus        *event.InMemoryBus
	redis      *miniredis.Miniredis
	clock      *fakeClock
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	policies RateLimitPolicies
	policy   IdentityPolicy
}

func withPolicies(p RateLimitPolicies) harnessOption {
	return func(c *harnessConfig) { c.policies = p }
}

func withIdentityPolicy(p IdentityPolicy) harnessOption {
	return func(c *harnessConfig) { c.policy = p }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.DialectSQLite))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	hasher := security.NewHasher(testPepper, testArgon2)

	tokens, err := token.NewIssuer(token.Options{
		Secret: testTokenSecret,
		TTL:    15 * time.Minute,
		Now:    clock.Now,
	})
	require.NoError(t, err)

	identities := NewIdentityService(sqlite.NewIdentityRepo(db), hasher, cfg.policy)
	identities.now = clock.Now
	sessions := NewSessionManager(sqlite.NewSessionRepo(db), hasher, 24*time.Hour, WithSessionClock(clock.Now))
	bus := event.NewBus()

	auth := NewAuthService(AuthServiceConfig{
		Identities: identities,
		Sessions:   sessions,
		Tokens:     tokens,
		Limiter:    ratelimit.New(client),
		Policies:   cfg.policies,
		Bus:        bus,
	})

	return &harness{
		auth:       auth,
		identities: identities,
		sessions:   sessions,
		tokens:     tokens,
		bus:        bus,
		redis:      mr,
		clock:      clock,
	}
}

var testMeta = model.ClientMeta{UserAgent: "go-test", IP: "203.0.113.10"}

func refreshInput(r *model.AuthResult) RefreshInput {
	return RefreshInput{
		SessionID:     r.Session.ID,
		RefreshSecret: r.Secrets.Refresh,
		CSRFCookie:    r.Secrets.CSRF,
		CSRFHeader:    r.Secrets.CSRF,
		Meta:          testMeta,
	}
}

func (h *harness) guest(t *testing.T) *model.AuthResult {
	t.Helper()
	result, err := h.auth.Guest(context.Background(), testMeta)
	require.NoError(t, err)
	return result
}

// account creates a guest and claims it with email/password.
func (h *harness) account(t *testing.T, email string, password string) *model.AuthResult {
	t.Helper()
	g := h.guest(t)
	result, err := h.auth.Claim(context.Background(), g.AccessToken, email, "", password, testMeta)
	require.NoError(t, err)
	return result
}

func (h *harness) session(t *testing.T, sid string) *model.Session {
	t.Helper()
	s, err := h.sessions.Lookup(context.Background(), sid)
	require.NoError(t, err)
	return s
}
