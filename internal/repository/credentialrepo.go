package repository

import (
	"context"

	"github.com/and161185/passvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CredentialRepository stores sealed credentials. Envelopes are opaque to it.
type CredentialRepository interface {
	// Create inserts a credential; CreatedAt/UpdatedAt are filled from the store.
	Create(ctx context.Context, c *model.Credential) error
	// Get returns one credential owned by userID.
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Credential, error)
	// List returns metadata of all credentials owned by userID, newest first.
	List(ctx context.Context, userID uuid.UUID) ([]model.CredentialSummary, error)
	// Update replaces site, username and the whole envelope in one write.
	Update(ctx context.Context, c *model.Credential) error
	// Delete removes a credential owned by userID.
	Delete(ctx context.Context, userID, id uuid.UUID) error
}
