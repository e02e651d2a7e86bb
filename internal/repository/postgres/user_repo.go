package postgres

import (
	"context"
	"time"

	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, secret_hash, enc_salt, refresh_fp, last_login, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, secret_hash, enc_salt)
VALUES ($1, $2, $3, $4)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, u.ID, u.Email, u.SecretHash, u.EncSalt).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

func (r *UserRepo) getBy(ctx context.Context, where string, arg any) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + where + `=$1`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, arg).
		Scan(&u.ID, &u.Email, &u.SecretHash, &u.EncSalt, &u.RefreshFingerprint, &u.LastLogin, &u.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getBy(ctx, "email", email)
}

// GetVerificationMaterial selects only what the gate needs.
func (r *UserRepo) GetVerificationMaterial(ctx context.Context, id uuid.UUID) (model.VerificationMaterial, error) {
	const q = `SELECT secret_hash, enc_salt FROM users WHERE id=$1`
	var m model.VerificationMaterial
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&m.SecretHash, &m.EncSalt); err != nil {
		return model.VerificationMaterial{}, mapNoRows(err)
	}
	return m, nil
}

// SetLongLivedTokenFingerprint overwrites refresh_fp, revoking any previous refresh token.
func (r *UserRepo) SetLongLivedTokenFingerprint(ctx context.Context, id uuid.UUID, fp []byte) error {
	const q = `UPDATE users SET refresh_fp=$2 WHERE id=$1`
	return r.execOne(ctx, q, id, fp)
}

// LongLivedTokenFingerprint reads refresh_fp.
func (r *UserRepo) LongLivedTokenFingerprint(ctx context.Context, id uuid.UUID) ([]byte, error) {
	const q = `SELECT refresh_fp FROM users WHERE id=$1`
	var fp []byte
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&fp); err != nil {
		return nil, mapNoRows(err)
	}
	return fp, nil
}

// ClearLongLivedTokenFingerprint sets refresh_fp to NULL.
func (r *UserRepo) ClearLongLivedTokenFingerprint(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET refresh_fp=NULL WHERE id=$1`
	return r.execOne(ctx, q, id)
}

// TouchLastLogin sets last_login.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET last_login=$2 WHERE id=$1`
	return r.execOne(ctx, q, id, at)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
