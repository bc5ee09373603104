package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"companion-auth/internal/model"
)

const identityColumns = `id, username, email, password_hash, auth_type, metadata, created_at, upgraded_at`

type IdentityRepo struct {
	pool Pool
}

func NewIdentityRepo(pool Pool) *IdentityRepo {
	return &IdentityRepo{pool: pool}
}

func (r *IdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO identities (`+identityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		identity.ID, identity.Username, identity.Email, identity.PasswordHash,
		string(identity.AuthType), metadataOrEmpty(identity.Metadata), identity.CreatedAt, identity.UpgradedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			With("identity_id", identity.ID).
			Wrap(err)
	}
	return nil
}

func (r *IdentityRepo) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by id").
			With("identity_id", id).
			Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepo) Claim(ctx context.Context, identity *model.Identity) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities
		 SET username = $2, email = $3, password_hash = $4, auth_type = $5,
		     metadata = $6, upgraded_at = $7
		 WHERE id = $1 AND auth_type = 'guest'`,
		identity.ID, identity.Username, identity.Email, identity.PasswordHash,
		string(identity.AuthType), metadataOrEmpty(identity.Metadata), identity.UpgradedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return oops.Code("IDENTITY_CLAIM_FAILED").
			With("operation", "upgrade guest identity").
			With("identity_id", identity.ID).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func scanIdentity(row rowScanner) (*model.Identity, error) {
	var (
		identity model.Identity
		authType string
		metadata map[string]string
	)

	err := row.Scan(&identity.ID, &identity.Username, &identity.Email, &identity.PasswordHash,
		&authType, &metadata, &identity.CreatedAt, &identity.UpgradedAt)
	if err != nil {
		return nil, err
	}

	identity.AuthType = model.AuthType(authType)
	if len(metadata) > 0 {
		identity.Metadata = metadata
	}
	return &identity, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
