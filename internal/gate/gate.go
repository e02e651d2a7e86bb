// Package gate checks a freshly supplied master secret before any credential
// is sealed or opened, and hands out the derived key for that one operation.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/passvault/internal/crypto"
	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
)

// MaterialSource yields verification material for an identity.
type MaterialSource interface {
	GetVerificationMaterial(ctx context.Context, id uuid.UUID) (model.VerificationMaterial, error)
}

// Gate verifies master secrets and derives encryption keys. It keeps no
// secret or key between calls.
type Gate struct {
	src   MaterialSource
	kdf   crypto.KDFParams
	dummy string
	log   *zap.Logger
}

// New constructs a Gate. hash must match the parameters user hashes are created
// with so that unknown identities cost the same as known ones.
func New(src MaterialSource, kdf crypto.KDFParams, hash crypto.HashParams, log *zap.Logger) (*Gate, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dummy, err := crypto.HashSecret(hash, []byte("passvault-dummy-secret"))
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &Gate{src: src, kdf: kdf, dummy: dummy, log: log}, nil
}

// Authorize verifies secret for id and returns the derived key.
// Unknown identities and wrong secrets both yield errs.ErrRejected.
// The caller owns the key and must Wipe it after a single seal or open.
func (g *Gate) Authorize(ctx context.Context, id uuid.UUID, secret []byte) (*crypto.Key, error) {
	m, err := g.src.GetVerificationMaterial(ctx, id)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		_, _ = crypto.VerifySecret(secret, g.dummy)
		g.log.Info("gate rejected", zap.String("user_id", id.String()), zap.String("reason", "unknown identity"))
		return nil, errs.ErrRejected
	case err != nil:
		return nil, fmt.Errorf("load verification material: %w", err)
	}

	ok, err := crypto.VerifySecret(secret, m.SecretHash)
	if err != nil {
		g.log.Error("stored secret hash unreadable", zap.String("user_id", id.String()), zap.Error(err))
		return nil, errs.ErrRejected
	}
	if !ok {
		g.log.Info("gate rejected", zap.String("user_id", id.String()), zap.String("reason", "secret mismatch"))
		return nil, errs.ErrRejected
	}
	return crypto.DeriveKey(secret, m.EncSalt, g.kdf)
}

// WithKey authorizes and runs fn with the derived key, wiping it when fn returns.
func (g *Gate) WithKey(ctx context.Context, id uuid.UUID, secret []byte, fn func(*crypto.Key) error) error {
	key, err := g.Authorize(ctx, id, secret)
	if err != nil {
		return err
	}
	defer key.Wipe()
	return fn(key)
}
