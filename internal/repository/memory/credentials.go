package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CredentialRepo keeps credentials per owner.
type CredentialRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]map[uuid.UUID]*model.Credential // owner -> id -> record
	now   func() time.Time
}

// NewCredentialRepo returns an empty credential store.
func NewCredentialRepo() *CredentialRepo {
	return &CredentialRepo{items: map[uuid.UUID]map[uuid.UUID]*model.Credential{}, now: time.Now}
}

func cloneCredential(c *model.Credential) *model.Credential {
	cp := *c
	cp.Envelope = model.Envelope{
		Ciphertext: bytes.Clone(c.Envelope.Ciphertext),
		Nonce:      bytes.Clone(c.Envelope.Nonce),
		Tag:        bytes.Clone(c.Envelope.Tag),
	}
	return &cp
}

// Create stores a copy of c.
func (r *CredentialRepo) Create(_ context.Context, c *model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := r.items[c.UserID]
	if owned == nil {
		owned = map[uuid.UUID]*model.Credential{}
		r.items[c.UserID] = owned
	}
	if _, ok := owned[c.ID]; ok {
		return errs.ErrAlreadyExists
	}
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	owned[c.ID] = cloneCredential(c)
	return nil
}

// Get returns a copy of one credential.
func (r *CredentialRepo) Get(_ context.Context, userID, id uuid.UUID) (*model.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[userID][id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneCredential(c), nil
}

// List returns summaries, newest first.
func (r *CredentialRepo) List(_ context.Context, userID uuid.UUID) ([]model.CredentialSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.CredentialSummary, 0, len(r.items[userID]))
	for _, c := range r.items[userID] {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) > 0
	})
	return out, nil
}

// Update replaces metadata and envelope of an existing credential.
func (r *CredentialRepo) Update(_ context.Context, c *model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[c.UserID][c.ID]
	if !ok {
		return errs.ErrNotFound
	}
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = r.now().UTC()
	r.items[c.UserID][c.ID] = cloneCredential(c)
	return nil
}

// Delete removes a credential.
func (r *CredentialRepo) Delete(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[userID][id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.items[userID], id)
	return nil
}
