package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"companion-auth/internal/event"
	"companion-auth/internal/metrics"
	"companion-auth/internal/model"
	"companion-auth/internal/ratelimit"
	"companion-auth/internal/repository"
	"companion-auth/internal/security"
	"companion-auth/internal/token"
)

const (
	opGuest     = "guest"
	opLogin     = "login"
	opClaim     = "claim"
	opRefresh   = "refresh"
	opLogout    = "logout"
	opLogoutAll = "logout_all"
)

// RateLimiter is satisfied by *ratelimit.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, action string, discriminator string, policy ratelimit.Policy) error
}

type RateLimitPolicies struct {
	Guest   ratelimit.Policy
	Login   ratelimit.Policy
	Claim   ratelimit.Policy
	Refresh ratelimit.Policy
}

// RefreshInput is everything a refresh call presents: the two refresh-path
// cookies, the CSRF cookie and the CSRF header echo.
type RefreshInput struct {
	SessionID     string
	RefreshSecret string
	CSRFCookie    string
	CSRFHeader    string
	Meta          model.ClientMeta
}

type AuthServiceConfig struct {
	Identities *IdentityService
	Sessions   *SessionManager
	Tokens     *token.Issuer
	Limiter    RateLimiter
	Policies   RateLimitPolicies
	Bus        event.Bus
	Tracer     trace.Tracer
}

// AuthService composes the identity store, the session manager, the token
// issuer and the limiter into the public auth operations.
type AuthService struct {
	identities *IdentityService
	sessions   *SessionManager
	tokens     *token.Issuer
	limiter    RateLimiter
	policies   RateLimitPolicies
	bus        event.Bus
	tracer     trace.Tracer
}

func NewAuthService(cfg AuthServiceConfig) *AuthService {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("companion-auth/internal/service")
	}
	return &AuthService{
		identities: cfg.Identities,
		sessions:   cfg.Sessions,
		tokens:     cfg.Tokens,
		limiter:    cfg.Limiter,
		policies:   cfg.Policies,
		bus:        cfg.Bus,
		tracer:     cfg.Tracer,
	}
}

func (s *AuthService) Guest(ctx context.Context, meta model.ClientMeta) (result *model.AuthResult, err error) {
	ctx, done := s.begin(ctx, opGuest)
	defer func() { done(err) }()

	if err := s.rateLimit(ctx, ratelimit.ActionGuest, meta.IP, s.policies.Guest); err != nil {
		return nil, err
	}

	identity, err := s.identities.CreateGuest(ctx)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, identity, meta)
}

func (s *AuthService) Login(ctx context.Context, email string, password string, meta model.ClientMeta) (result *model.AuthResult, err error) {
	ctx, done := s.begin(ctx, opLogin)
	defer func() { done(err) }()

	if err := s.rateLimit(ctx, ratelimit.ActionLogin, meta.IP, s.policies.Login); err != nil {
		return nil, err
	}

	identity, err := s.identities.Login(ctx, email, password)
	if errors.Is(err, model.ErrInvalidCredentials) {
		s.publish(event.TypeLoginFailed, "", map[string]string{"email": normalizeEmail(email), "ip": meta.IP})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, identity, meta)
}

// Claim upgrades the guest behind accessToken, retires the session the token
// was minted for and starts a new one. The session must still be live: a
// token whose session was revoked cannot upgrade the identity.
func (s *AuthService) Claim(ctx context.Context, accessToken string, email string, username string, password string, meta model.ClientMeta) (result *model.AuthResult, err error) {
	ctx, done := s.begin(ctx, opClaim)
	defer func() { done(err) }()

	claims, err := s.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	active, err := s.SessionActive(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check claim session: %w", err)
	}
	if !active {
		return nil, model.ErrInvalidToken
	}

	if err := s.rateLimit(ctx, ratelimit.ActionClaim, claims.UserID(), s.policies.Claim); err != nil {
		return nil, err
	}

	identity, err := s.identities.Claim(ctx, claims.UserID(), email, username, password)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil {
		return nil, fmt.Errorf("revoke guest session: %w", err)
	}
	s.publish(event.TypeIdentityClaimed, identity.ID, map[string]string{"previous_session_id": claims.SessionID})

	return s.issue(ctx, identity, meta)
}

// Refresh trades a live session for its successor. A revoked session whose
// secret still verifies is a replay: every session of the user is revoked.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (result *model.AuthResult, err error) {
	ctx, done := s.begin(ctx, opRefresh)
	defer func() { done(err) }()

	if in.SessionID == "" || in.RefreshSecret == "" {
		return nil, model.ErrNoRefresh
	}
	if in.CSRFCookie == "" || in.CSRFHeader == "" || !security.EqualStrings(in.CSRFCookie, in.CSRFHeader) {
		return nil, model.ErrCSRFMismatch
	}

	if err := s.rateLimit(ctx, ratelimit.ActionRefresh, in.Meta.IP, s.policies.Refresh); err != nil {
		return nil, err
	}

	session, err := s.sessions.Lookup(ctx, in.SessionID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, model.ErrBadRefresh
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.user_id", session.UserID))

	if !s.sessions.VerifyCSRF(session, in.CSRFCookie) {
		return nil, model.ErrCSRFMismatch
	}

	secretOK := s.sessions.VerifyRefresh(session, in.RefreshSecret)
	if session.Revoked {
		if !secretOK {
			return nil, model.ErrBadRefresh
		}
		return nil, s.replayDetected(ctx, session)
	}
	if !secretOK {
		return nil, model.ErrBadRefresh
	}

	if s.sessions.IsExpired(session) {
		if err := s.sessions.Revoke(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("revoke expired session: %w", err)
		}
		s.publish(event.TypeSessionRevoked, session.UserID, map[string]string{"session_id": session.ID, "reason": "expired"})
		return nil, model.ErrExpired
	}

	next, secrets, err := s.sessions.Rotate(ctx, session, in.Meta)
	if errors.Is(err, repository.ErrSessionAlreadyRevoked) {
		// a concurrent refresh spent the same secret first
		return nil, s.replayDetected(ctx, session)
	}
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	identity, err := s.identities.Get(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	s.publish(event.TypeSessionRotated, session.UserID, map[string]string{"session_id": next.ID, "previous_session_id": session.ID})
	return s.result(identity, next, secrets)
}

// Logout revokes the session named by accessToken when the token carries a
// valid signature, expired or not. It never fails.
func (s *AuthService) Logout(ctx context.Context, accessToken string) {
	ctx, done := s.begin(ctx, opLogout)
	defer done(nil)

	if accessToken == "" {
		return
	}
	claims, err := s.tokens.VerifyIgnoringExpiry(accessToken)
	if err != nil {
		slog.DebugContext(ctx, "logout with unusable token", "error", err)
		return
	}

	if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil {
		slog.WarnContext(ctx, "logout could not revoke session", "session_id", claims.SessionID, "error", err)
		return
	}
	s.publish(event.TypeSessionRevoked, claims.UserID(), map[string]string{"session_id": claims.SessionID, "reason": "logout"})
}

// LogoutAll revokes every session of the token's user.
func (s *AuthService) LogoutAll(ctx context.Context, claims *token.Claims) (revoked int64, err error) {
	ctx, done := s.begin(ctx, opLogoutAll)
	defer func() { done(err) }()

	revoked, err = s.sessions.RevokeAll(ctx, claims.UserID())
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	s.publish(event.TypeSessionsRevoked, claims.UserID(), map[string]string{"reason": "logout_all", "count": fmt.Sprint(revoked)})
	return revoked, nil
}

func (s *AuthService) Me(ctx context.Context, claims *token.Claims) (*model.Identity, error) {
	identity, err := s.identities.Get(ctx, claims.UserID())
	if errors.Is(err, repository.ErrIdentityNotFound) {
		return nil, model.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return identity, nil
}

func (s *AuthService) Sessions(ctx context.Context, claims *token.Claims) ([]model.SessionView, error) {
	sessions, err := s.sessions.ListActive(ctx, claims.UserID())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	views := make([]model.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, session.View(claims.SessionID))
	}
	return views, nil
}

// VerifyAccessToken maps token failures onto the error taxonomy.
func (s *AuthService) VerifyAccessToken(raw string) (*token.Claims, error) {
	if raw == "" {
		return nil, model.ErrAuthRequired
	}
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, model.ErrInvalidToken
	}
	return claims, nil
}

// SessionActive reports whether sid names a live session. Store failures are
// returned as errors, not as false.
func (s *AuthService) SessionActive(ctx context.Context, sid string) (bool, error) {
	session, err := s.sessions.Lookup(ctx, sid)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !session.Revoked && !s.sessions.IsExpired(session), nil
}

func (s *AuthService) replayDetected(ctx context.Context, session *model.Session) error {
	metrics.RecordReplay()
	trace.SpanFromContext(ctx).AddEvent("refresh replay detected")

	if err := s.sessions.MarkReused(ctx, session.ID); err != nil {
		return fmt.Errorf("mark session reused: %w", err)
	}
	revoked, err := s.sessions.RevokeAll(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("revoke sessions after replay: %w", err)
	}

	slog.WarnContext(ctx, "refresh token replay detected",
		"user_id", session.UserID, "session_id", session.ID, "revoked_sessions", revoked)
	s.publish(event.TypeReplayDetected, session.UserID, map[string]string{
		"session_id":       session.ID,
		"revoked_sessions": fmt.Sprint(revoked),
	})
	return model.ErrRevoked
}

func (s *AuthService) issue(ctx context.Context, identity *model.Identity, meta model.ClientMeta) (*model.AuthResult, error) {
	session, secrets, err := s.sessions.Create(ctx, identity.ID, identity.Username, meta)
	if err != nil {
		return nil, err
	}

	s.publish(event.TypeSessionCreated, identity.ID, map[string]string{"session_id": session.ID, "ip": meta.IP})
	return s.result(identity, session, secrets)
}

func (s *AuthService) result(identity *model.Identity, session *model.Session, secrets model.Secrets) (*model.AuthResult, error) {
	accessToken, err := s.tokens.Mint(token.Subject{
		UserID:    session.UserID,
		SessionID: session.ID,
		Username:  session.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	return &model.AuthResult{
		Identity:    identity,
		Session:     session,
		Secrets:     secrets,
		AccessToken: accessToken,
		ExpiresIn:   s.tokens.TTL(),
	}, nil
}

func (s *AuthService) rateLimit(ctx context.Context, action string, discriminator string, policy ratelimit.Policy) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Allow(ctx, action, discriminator, policy)
	if errors.Is(err, model.ErrRateLimited) {
		metrics.RecordRateLimited(action)
		return err
	}
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", action, err)
	}
	return nil
}

func (s *AuthService) publish(kind event.Type, actorID string, payload map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
	})
}

// begin opens the span for operation and returns the func that closes it and
// records the outcome.
func (s *AuthService) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "AuthService."+operation,
		trace.WithAttributes(attribute.String("auth.operation", operation)))
	start := time.Now()

	return ctx, func(err error) {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			if kind, ok := model.KindOf(err); ok {
				outcome = string(kind)
				span.SetAttributes(attribute.String("auth.error_kind", outcome))
			} else {
				outcome = metrics.OutcomeError
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		metrics.ObserveOperation(operation, outcome, time.Since(start))
		span.End()
	}
}
