// Package service contains application services for accounts, sessions and credentials.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/passvault/internal/crypto"
	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/limiter"
	"github.com/and161185/passvault/internal/model"
	"github.com/and161185/passvault/internal/repository"
)

// EncSaltLen is the size of the per-user encryption salt.
const EncSaltLen = 32

// MinSecretLen is the shortest accepted master secret, in characters.
const MinSecretLen = 12

// registerSubject keys the registration cap; the client host hash does the rest.
const registerSubject = "register:"

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates an account and opens its first session. Attempts are
	// capped per client host.
	Register(ctx context.Context, email, secret, ip string) (model.User, model.Tokens, error)
	// Login applies rate-limiting, checks the master secret and opens a new session.
	Login(ctx context.Context, email, secret, ip string) (model.User, model.Tokens, error)
	// Refresh exchanges the current refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (string, time.Time, error)
	// Logout revokes the user's refresh token.
	Logout(ctx context.Context, userID uuid.UUID) error
	// Me returns the account profile.
	Me(ctx context.Context, userID uuid.UUID) (model.User, error)
}

// Sessions is the part of the session issuer the auth service drives.
type Sessions interface {
	Issue(ctx context.Context, id uuid.UUID) (model.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (string, time.Time, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions Sessions
	lim      limiter.Limiter
	regLim   limiter.Limiter
	hash     pkgcrypto.HashParams
	dummy    string
	now      func() time.Time
	log      *zap.Logger
}

// NewAuthService constructs AuthService with required dependencies. lim locks out
// repeated login failures; regLim caps registrations per client host.
func NewAuthService(
	users repository.UserRepository, sessions Sessions, lim, regLim limiter.Limiter, hash pkgcrypto.HashParams, log *zap.Logger,
) (*AuthServiceImpl, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dummy, err := pkgcrypto.HashSecret(hash, []byte("passvault-login-dummy"))
	if err != nil {
		return nil, err
	}
	return &AuthServiceImpl{
		users: users, sessions: sessions, lim: lim, regLim: regLim,
		hash: hash, dummy: dummy, now: time.Now, log: log,
	}, nil
}

// NormalizeEmail lower-cases and trims an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("email: %w", errs.ErrInvalidArgument)
	}
	return email, nil
}

// CheckSecretPolicy enforces length and character classes for a new master secret.
func CheckSecretPolicy(secret string) error {
	if utf8.RuneCountInString(secret) < MinSecretLen {
		return fmt.Errorf("master secret shorter than %d: %w", MinSecretLen, errs.ErrInvalidArgument)
	}
	var lower, upper, digit, special bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return fmt.Errorf("master secret needs upper, lower, digit and special characters: %w", errs.ErrInvalidArgument)
	}
	return nil
}

// Register hashes the master secret, generates the immutable encryption salt and
// opens the first session.
func (s *AuthServiceImpl) Register(ctx context.Context, email, secret, ip string) (model.User, model.Tokens, error) {
	ipHash := limiter.HashIP(ip)
	ok, _, err := limiter.Spend(ctx, s.regLim, registerSubject, ipHash)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	if !ok {
		s.log.Warn("registration throttled", zap.Binary("ip_hash", ipHash))
		return model.User{}, model.Tokens{}, errs.ErrRateLimited
	}

	email, err = NormalizeEmail(email)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	if err := CheckSecretPolicy(secret); err != nil {
		return model.User{}, model.Tokens{}, err
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	hash, err := pkgcrypto.HashSecret(s.hash, []byte(secret))
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	encSalt, err := pkgcrypto.RandBytes(EncSaltLen)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}

	u := &model.User{ID: uid, Email: email, SecretHash: hash, EncSalt: encSalt}
	if err := s.users.Create(ctx, u); err != nil {
		return model.User{}, model.Tokens{}, err
	}
	tok, err := s.sessions.Issue(ctx, uid)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	s.log.Info("user registered", zap.String("user_id", uid.String()))
	return *u, tok, nil
}

// Login authenticates with rate limiting by (email, client host).
func (s *AuthServiceImpl) Login(ctx context.Context, email, secret, ip string) (model.User, model.Tokens, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	if !allowed {
		return model.User{}, model.Tokens{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.User{}, model.Tokens{}, err
	}
	encoded := s.dummy
	if u != nil {
		encoded = u.SecretHash
	}
	ok, _ := pkgcrypto.VerifySecret([]byte(secret), encoded)
	if u == nil || !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			s.log.Warn("login locked out", zap.Binary("ip_hash", ipHash))
			return model.User{}, model.Tokens{}, errs.ErrRateLimited
		}
		// unknown email and wrong secret look the same
		return model.User{}, model.Tokens{}, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, email, ipHash)

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("touch last login", zap.String("user_id", u.ID.String()), zap.Error(err))
	} else {
		u.LastLogin = &now
	}
	tok, err := s.sessions.Issue(ctx, u.ID)
	if err != nil {
		return model.User{}, model.Tokens{}, err
	}
	return *u, tok, nil
}

// Refresh delegates to the session issuer.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if refreshToken == "" {
		return "", time.Time{}, errs.ErrSessionInvalid
	}
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout clears the refresh token fingerprint.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessions.Revoke(ctx, userID); err != nil {
		return err
	}
	s.log.Info("user logged out", zap.String("user_id", userID.String()))
	return nil
}

// Me returns the stored profile.
func (s *AuthServiceImpl) Me(ctx context.Context, userID uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}
