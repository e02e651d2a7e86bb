package postgres

import (
	"context"

	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

// Create inserts a credential and fills its timestamps.
func (r *CredentialRepo) Create(ctx context.Context, c *model.Credential) error {
	const q = `
INSERT INTO credentials (id, user_id, site, username, ciphertext, nonce, tag)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q,
		c.ID, c.UserID, c.Site, c.Username, c.Envelope.Ciphertext, c.Envelope.Nonce, c.Envelope.Tag,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get returns a single credential by owner and id.
func (r *CredentialRepo) Get(ctx context.Context, userID, id uuid.UUID) (*model.Credential, error) {
	const q = `
SELECT id, user_id, site, username, ciphertext, nonce, tag, created_at, updated_at
FROM credentials WHERE user_id=$1 AND id=$2`
	var c model.Credential
	err := r.db.Pool.QueryRow(ctx, q, userID, id).Scan(
		&c.ID, &c.UserID, &c.Site, &c.Username,
		&c.Envelope.Ciphertext, &c.Envelope.Nonce, &c.Envelope.Tag,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &c, nil
}

// List returns credential metadata for a user, newest first. Envelopes are not selected.
func (r *CredentialRepo) List(ctx context.Context, userID uuid.UUID) ([]model.CredentialSummary, error) {
	const q = `
SELECT id, site, username, created_at, updated_at
FROM credentials
WHERE user_id=$1
ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.CredentialSummary{}
	for rows.Next() {
		var s model.CredentialSummary
		if err := rows.Scan(&s.ID, &s.Site, &s.Username, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update rewrites metadata and the whole envelope in a single statement.
func (r *CredentialRepo) Update(ctx context.Context, c *model.Credential) error {
	const q = `
UPDATE credentials
SET site=$3, username=$4, ciphertext=$5, nonce=$6, tag=$7, updated_at=now()
WHERE user_id=$1 AND id=$2
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q,
		c.UserID, c.ID, c.Site, c.Username, c.Envelope.Ciphertext, c.Envelope.Nonce, c.Envelope.Tag,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapNoRows(err)
}

// Delete removes a credential.
func (r *CredentialRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	const q = `DELETE FROM credentials WHERE user_id=$1 AND id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
