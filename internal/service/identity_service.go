package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion-auth/internal/model"
	"companion-auth/internal/repository"
	"companion-auth/internal/security"
)

// IdentityPolicy lets the embedding application attach metadata to an
// identity when it is claimed. The auth flow never inspects the result.
type IdentityPolicy interface {
	Apply(identity *model.Identity)
}

type IdentityPolicyFunc func(identity *model.Identity)

func (f IdentityPolicyFunc) Apply(identity *model.Identity) { f(identity) }

// OperatorEmailPolicy marks identities claimed with one of the configured
// emails as operators.
type OperatorEmailPolicy struct {
	emails map[string]struct{}
}

func NewOperatorEmailPolicy(emails []string) *OperatorEmailPolicy {
	set := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if email = normalizeEmail(email); email != "" {
			set[email] = struct{}{}
		}
	}
	return &OperatorEmailPolicy{emails: set}
}

func (p *OperatorEmailPolicy) Apply(identity *model.Identity) {
	if identity.Email == nil {
		return
	}
	if _, ok := p.emails[normalizeEmail(*identity.Email)]; !ok {
		return
	}
	if identity.Metadata == nil {
		identity.Metadata = map[string]string{}
	}
	identity.Metadata["role"] = "operator"
}

type IdentityService struct {
	repo   repository.IdentityRepository
	hasher *security.Hasher
	policy IdentityPolicy
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewIdentityService(repo repository.IdentityRepository, hasher *security.Hasher, policy IdentityPolicy) *IdentityService {
	return &IdentityService{
		repo:   repo,
		hasher: hasher,
		policy: policy,
		now:    time.Now,
	}
}

func (s *IdentityService) CreateGuest(ctx context.Context) (*model.Identity, error) {
	id := uuid.NewString()
	identity := &model.Identity{
		ID:        id,
		Username:  model.GuestUsernamePrefix + id,
		AuthType:  model.AuthTypeGuest,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("create guest identity: %w", err)
	}
	return identity, nil
}

// FindByEmail returns repository.ErrIdentityNotFound when nobody owns email.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return s.repo.GetByEmail(ctx, normalizeEmail(email))
}

func (s *IdentityService) Get(ctx context.Context, userID string) (*model.Identity, error) {
	return s.repo.GetByID(ctx, userID)
}

// Login returns model.ErrInvalidCredentials for an unknown email, an identity
// without a password, and a wrong password alike. A digest is verified on
// every path so the three cases cost the same.
func (s *IdentityService) Login(ctx context.Context, email string, password string) (*model.Identity, error) {
	identity, err := s.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrIdentityNotFound) {
		s.hasher.Verify(password, s.dummyDigest())
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find identity by email: %w", err)
	}

	if !identity.HasPassword() {
		s.hasher.Verify(password, s.dummyDigest())
		return nil, model.ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, *identity.PasswordHash) {
		return nil, model.ErrInvalidCredentials
	}
	return identity, nil
}

// Claim upgrades the guest userID in place to a password identity.
func (s *IdentityService) Claim(ctx context.Context, userID string, email string, username string, password string) (*model.Identity, error) {
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)
	if email == "" || password == "" {
		return nil, model.NewInvalidInput("email and password are required")
	}

	identity, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrIdentityNotFound) {
		return nil, model.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !identity.IsGuest() {
		return nil, model.ErrAlreadyClaimed
	}

	owner, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil && owner.ID != identity.ID:
		return nil, model.ErrEmailInUse
	case err != nil && !errors.Is(err, repository.ErrIdentityNotFound):
		return nil, fmt.Errorf("check email owner: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	upgradedAt := s.now().UTC()
	identity.Email = &email
	identity.PasswordHash = &hash
	identity.AuthType = model.AuthTypePassword
	identity.UpgradedAt = &upgradedAt
	if username != "" {
		identity.Username = username
	}
	if s.policy != nil {
		s.policy.Apply(identity)
	}

	// the pre-check above loses races; the unique index does not
	err = s.repo.Claim(ctx, identity)
	switch {
	case errors.Is(err, repository.ErrEmailTaken):
		return nil, model.ErrEmailInUse
	case errors.Is(err, repository.ErrNotClaimable):
		return nil, model.ErrAlreadyClaimed
	case err != nil:
		return nil, fmt.Errorf("claim identity: %w", err)
	}
	return identity, nil
}

func (s *IdentityService) dummyDigest() string {
	s.dummyOnce.Do(func() {
		secret, err := security.RandomSecret(security.MinSecretBytes)
		if err == nil {
			s.dummyHash, _ = s.hasher.Hash(secret)
		}
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
