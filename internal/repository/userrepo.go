// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/passvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository is the identity ledger: accounts, verification material and
// the single active refresh token fingerprint per account.
type UserRepository interface {
	// Create inserts a new user. A taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by normalized email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetVerificationMaterial returns the secret hash and encryption salt.
	GetVerificationMaterial(ctx context.Context, id uuid.UUID) (model.VerificationMaterial, error)
	// SetLongLivedTokenFingerprint replaces the active refresh token fingerprint in one write.
	SetLongLivedTokenFingerprint(ctx context.Context, id uuid.UUID, fp []byte) error
	// LongLivedTokenFingerprint returns the active fingerprint, nil when none is set.
	LongLivedTokenFingerprint(ctx context.Context, id uuid.UUID) ([]byte, error)
	// ClearLongLivedTokenFingerprint drops the active fingerprint.
	ClearLongLivedTokenFingerprint(ctx context.Context, id uuid.UUID) error
	// TouchLastLogin records a successful login time.
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}
