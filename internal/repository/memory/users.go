// Package memory contains in-process implementations of repository interfaces.
// They back the server's memory store mode and the service tests.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo is a mutex-guarded map of users.
type UserRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*model.User
	byEmail map[string]uuid.UUID
	now     func() time.Time
}

// NewUserRepo returns an empty user store.
func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:    map[uuid.UUID]*model.User{},
		byEmail: map[string]uuid.UUID{},
		now:     time.Now,
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.EncSalt = bytes.Clone(u.EncSalt)
	c.RefreshFingerprint = bytes.Clone(u.RefreshFingerprint)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// Create stores a copy of u.
func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.byID[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	u.CreatedAt = r.now().UTC()
	r.byID[u.ID] = cloneUser(u)
	r.byEmail[u.Email] = u.ID
	return nil
}

// GetByID returns a copy of the user.
func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneUser(u), nil
}

// GetByEmail returns a copy of the user.
func (r *UserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

// GetVerificationMaterial returns the hash and encryption salt.
func (r *UserRepo) GetVerificationMaterial(_ context.Context, id uuid.UUID) (model.VerificationMaterial, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return model.VerificationMaterial{}, errs.ErrNotFound
	}
	return model.VerificationMaterial{SecretHash: u.SecretHash, EncSalt: bytes.Clone(u.EncSalt)}, nil
}

// SetLongLivedTokenFingerprint replaces the fingerprint under the write lock.
func (r *UserRepo) SetLongLivedTokenFingerprint(_ context.Context, id uuid.UUID, fp []byte) error {
	return r.update(id, func(u *model.User) { u.RefreshFingerprint = bytes.Clone(fp) })
}

// LongLivedTokenFingerprint returns the current fingerprint or nil.
func (r *UserRepo) LongLivedTokenFingerprint(_ context.Context, id uuid.UUID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return bytes.Clone(u.RefreshFingerprint), nil
}

// ClearLongLivedTokenFingerprint removes the fingerprint.
func (r *UserRepo) ClearLongLivedTokenFingerprint(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *model.User) { u.RefreshFingerprint = nil })
}

// TouchLastLogin records at as the last login.
func (r *UserRepo) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(u *model.User) { u.LastLogin = &at })
}

func (r *UserRepo) update(id uuid.UUID, fn func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	fn(u)
	return nil
}
