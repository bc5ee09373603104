package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/samber/oops"

	"companion-auth/internal/model"
	"companion-auth/internal/repository"
)

const identityColumns = `id, username, email, password_hash, auth_type, metadata, created_at, upgraded_at`

type IdentityRepo struct {
	db *sql.DB
}

func NewIdentityRepo(db *sql.DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

func (r *IdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	metadata, err := encodeMetadata(identity.Metadata)
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").With("operation", "encode metadata").Wrap(err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.ID, identity.Username, identity.Email, identity.PasswordHash,
		string(identity.AuthType), metadata, toMicros(identity.CreatedAt), nullMicros(identity.UpgradedAt))
	if isUniqueViolation(err) {
		return repository.ErrEmailTaken
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
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)

	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrIdentityNotFound
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
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)

	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrIdentityNotFound
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_FAILED").
			With("operation", "get identity by email").
			Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepo) Claim(ctx context.Context, identity *model.Identity) error {
	metadata, err := encodeMetadata(identity.Metadata)
	if err != nil {
		return oops.Code("IDENTITY_CLAIM_FAILED").With("operation", "encode metadata").Wrap(err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE identities
		 SET username = ?, email = ?, password_hash = ?, auth_type = ?, metadata = ?, upgraded_at = ?
		 WHERE id = ? AND auth_type = 'guest'`,
		identity.Username, identity.Email, identity.PasswordHash, string(identity.AuthType),
		metadata, nullMicros(identity.UpgradedAt), identity.ID)
	if isUniqueViolation(err) {
		return repository.ErrEmailTaken
	}
	if err != nil {
		return oops.Code("IDENTITY_CLAIM_FAILED").
			With("operation", "upgrade guest identity").
			With("identity_id", identity.ID).
			Wrap(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("IDENTITY_CLAIM_FAILED").With("operation", "rows affected").Wrap(err)
	}
	if n == 0 {
		return repository.ErrNotClaimable
	}
	return nil
}

func scanIdentity(row rowScanner) (*model.Identity, error) {
	var (
		identity   model.Identity
		email      sql.NullString
		hash       sql.NullString
		authType   string
		metadata   string
		createdAt  int64
		upgradedAt sql.NullInt64
	)

	err := row.Scan(&identity.ID, &identity.Username, &email, &hash, &authType, &metadata, &createdAt, &upgradedAt)
	if err != nil {
		return nil, err
	}

	if email.Valid {
		identity.Email = &email.String
	}
	if hash.Valid {
		identity.PasswordHash = &hash.String
	}
	identity.AuthType = model.AuthType(authType)
	identity.CreatedAt = fromMicros(createdAt)
	identity.UpgradedAt = timePtr(upgradedAt)

	identity.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

var _ repository.IdentityRepository = (*IdentityRepo)(nil)
