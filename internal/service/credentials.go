package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/passvault/internal/crypto"
	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/limiter"
	"github.com/and161185/passvault/internal/model"
	"github.com/and161185/passvault/internal/repository"
)

// Field limits for stored credentials.
const (
	minSiteLen     = 3
	maxSiteLen     = 500
	maxUsernameLen = 100
	maxPasswordLen = 500
)

// CredentialInput is the plaintext side of a credential write.
type CredentialInput struct {
	Site     string
	Username string
	Password string // empty on update keeps the stored password
}

// CredentialService defines operations over sealed credentials.
// Every operation that seals or opens a password needs the master secret.
type CredentialService interface {
	// Create seals the password and stores a new credential.
	Create(ctx context.Context, userID uuid.UUID, secret string, in CredentialInput, ip string) (model.CredentialSummary, error)
	// List returns metadata only, newest first.
	List(ctx context.Context, userID uuid.UUID) ([]model.CredentialSummary, error)
	// Reveal opens one credential's password.
	Reveal(ctx context.Context, userID, id uuid.UUID, secret, ip string) (string, error)
	// Update reseals with a fresh nonce and stores the new envelope.
	Update(ctx context.Context, userID, id uuid.UUID, secret string, in CredentialInput, ip string) (model.CredentialSummary, error)
	// Delete removes a credential.
	Delete(ctx context.Context, userID, id uuid.UUID) error
	// GeneratePassword returns a random password of the given length.
	GeneratePassword(length int) (string, error)
}

// KeyGate is the master secret gate as seen by the service.
type KeyGate interface {
	WithKey(ctx context.Context, id uuid.UUID, secret []byte, fn func(*pkgcrypto.Key) error) error
}

type CredentialServiceImpl struct {
	repo   repository.CredentialRepository
	gate   KeyGate
	lim    limiter.Limiter
	opsLim limiter.Limiter
	log    *zap.Logger
}

// NewCredentialService constructs CredentialService. lim throttles rejected master
// secrets; opsLim caps password operations per (user, client).
func NewCredentialService(
	repo repository.CredentialRepository, gate KeyGate, lim, opsLim limiter.Limiter, log *zap.Logger,
) *CredentialServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialServiceImpl{repo: repo, gate: gate, lim: lim, opsLim: opsLim, log: log}
}

func (in CredentialInput) normalize(requirePassword bool) (CredentialInput, error) {
	in.Site = strings.TrimSpace(in.Site)
	in.Username = strings.TrimSpace(in.Username)
	if n := utf8.RuneCountInString(in.Site); n < minSiteLen || n > maxSiteLen {
		return in, fmt.Errorf("site length %d: %w", n, errs.ErrInvalidArgument)
	}
	if n := utf8.RuneCountInString(in.Username); n < 1 || n > maxUsernameLen {
		return in, fmt.Errorf("username length %d: %w", n, errs.ErrInvalidArgument)
	}
	n := utf8.RuneCountInString(in.Password)
	if (requirePassword && n < 1) || n > maxPasswordLen {
		return in, fmt.Errorf("password length %d: %w", n, errs.ErrInvalidArgument)
	}
	return in, nil
}

// withKey runs fn behind the gate. Every call spends the (user, client) operation
// budget; rejected secrets also count toward a lockout, which an accepted secret clears.
func (s *CredentialServiceImpl) withKey(ctx context.Context, userID uuid.UUID, secret, ip string, fn func(*pkgcrypto.Key) error) error {
	ipHash := limiter.HashIP(ip)
	ok, _, err := limiter.Spend(ctx, s.opsLim, "ops:"+userID.String(), ipHash)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("password operations throttled", zap.String("user_id", userID.String()))
		return errs.ErrRateLimited
	}

	subject := "gate:" + userID.String()
	allowed, _, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	authorized := false
	err = s.gate.WithKey(ctx, userID, []byte(secret), func(k *pkgcrypto.Key) error {
		authorized = true
		return fn(k)
	})
	switch {
	case authorized:
		_ = s.lim.Success(ctx, subject, ipHash)
	case errors.Is(err, errs.ErrRejected):
		if blocked, _, ferr := s.lim.Failure(ctx, subject, ipHash); ferr == nil && blocked {
			s.log.Warn("master secret locked out", zap.String("user_id", userID.String()))
			return errs.ErrRateLimited
		}
	}
	return err
}

// Create seals in.Password bound to (userID, new id) and stores the record.
func (s *CredentialServiceImpl) Create(
	ctx context.Context, userID uuid.UUID, secret string, in CredentialInput, ip string,
) (model.CredentialSummary, error) {
	in, err := in.normalize(true)
	if err != nil {
		return model.CredentialSummary{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.CredentialSummary{}, err
	}
	c := &model.Credential{ID: id, UserID: userID, Site: in.Site, Username: in.Username}

	err = s.withKey(ctx, userID, secret, ip, func(k *pkgcrypto.Key) error {
		env, err := pkgcrypto.Seal(k, []byte(in.Password), pkgcrypto.RecordAAD(userID, id))
		c.Envelope = env
		return err
	})
	if err != nil {
		return model.CredentialSummary{}, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return model.CredentialSummary{}, err
	}
	return c.Summary(), nil
}

// List returns metadata only; it never touches envelopes.
func (s *CredentialServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.CredentialSummary, error) {
	return s.repo.List(ctx, userID)
}

// Reveal opens a single password.
func (s *CredentialServiceImpl) Reveal(ctx context.Context, userID, id uuid.UUID, secret, ip string) (string, error) {
	var out string
	err := s.withKey(ctx, userID, secret, ip, func(k *pkgcrypto.Key) error {
		c, err := s.repo.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		pt, err := pkgcrypto.Open(k, c.Envelope, pkgcrypto.RecordAAD(userID, id))
		if err != nil {
			s.log.Warn("envelope failed to open", zap.String("user_id", userID.String()), zap.String("credential_id", id.String()))
			return err
		}
		out = string(pt)
		return nil
	})
	return out, err
}

// Update replaces metadata and reseals under a fresh nonce, even when the
// password itself is unchanged.
func (s *CredentialServiceImpl) Update(
	ctx context.Context, userID, id uuid.UUID, secret string, in CredentialInput, ip string,
) (model.CredentialSummary, error) {
	in, err := in.normalize(false)
	if err != nil {
		return model.CredentialSummary{}, err
	}
	var c *model.Credential
	err = s.withKey(ctx, userID, secret, ip, func(k *pkgcrypto.Key) error {
		cur, err := s.repo.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		aad := pkgcrypto.RecordAAD(userID, id)
		plain := []byte(in.Password)
		if in.Password == "" {
			if plain, err = pkgcrypto.Open(k, cur.Envelope, aad); err != nil {
				return err
			}
		}
		env, err := pkgcrypto.Seal(k, plain, aad)
		if err != nil {
			return err
		}
		cur.Site, cur.Username, cur.Envelope = in.Site, in.Username, env
		c = cur
		return nil
	})
	if err != nil {
		return model.CredentialSummary{}, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return model.CredentialSummary{}, err
	}
	return c.Summary(), nil
}

// Delete removes a credential.
func (s *CredentialServiceImpl) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.Delete(ctx, userID, id)
}

// GeneratePassword returns a random password; length is clamped to the supported range.
func (s *CredentialServiceImpl) GeneratePassword(length int) (string, error) {
	return pkgcrypto.GeneratePassword(length)
}
