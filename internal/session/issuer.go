// Package session issues and verifies the two bearer tokens of a session:
// a short-lived access token checked statelessly and a long-lived refresh
// token whose fingerprint is the single server-side record of the session.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
)

// Kind tells access and refresh tokens apart.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims are the JWT claims of both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	Kind Kind `json:"kind"`
}

// Ledger persists the fingerprint of the one active refresh token per identity.
type Ledger interface {
	SetLongLivedTokenFingerprint(ctx context.Context, id uuid.UUID, fp []byte) error
	LongLivedTokenFingerprint(ctx context.Context, id uuid.UUID) ([]byte, error)
	ClearLongLivedTokenFingerprint(ctx context.Context, id uuid.UUID) error
}

// Config holds the signing secret and token lifetimes.
type Config struct {
	SigningKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
}

// Issuer mints and checks session tokens.
type Issuer struct {
	ledger Ledger
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option { return func(i *Issuer) { i.log = l } }

// NewIssuer constructs an Issuer.
func NewIssuer(ledger Ledger, cfg Config, opts ...Option) *Issuer {
	i := &Issuer{ledger: ledger, cfg: cfg, now: time.Now, log: zap.NewNop()}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Fingerprint is the value recorded for a refresh token.
func Fingerprint(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// Issue mints an access/refresh pair and records the refresh token as the only
// valid one for id, revoking any earlier refresh token.
func (i *Issuer) Issue(ctx context.Context, id uuid.UUID) (model.Tokens, error) {
	access, exp, err := i.sign(id, KindAccess, i.cfg.AccessTTL, "")
	if err != nil {
		return model.Tokens{}, err
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, rexp, err := i.sign(id, KindRefresh, i.cfg.RefreshTTL, jti.String())
	if err != nil {
		return model.Tokens{}, err
	}
	if err := i.ledger.SetLongLivedTokenFingerprint(ctx, id, Fingerprint(refresh)); err != nil {
		return model.Tokens{}, fmt.Errorf("record refresh token: %w", err)
	}
	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp, RefreshExpiresAt: rexp}, nil
}

// Verify checks an access token without touching storage.
// It returns errs.ErrSessionExpired for a genuine but expired token and
// errs.ErrSessionInvalid for anything else.
func (i *Issuer) Verify(token string) (uuid.UUID, error) {
	id, err := i.parse(token, KindAccess)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return uuid.Nil, errs.ErrSessionExpired
	}
	if err != nil {
		return uuid.Nil, errs.ErrSessionInvalid
	}
	return id, nil
}

// Refresh mints a new access token from the identity's current refresh token.
// The refresh token itself is not rotated.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	id, err := i.parse(refreshToken, KindRefresh)
	if err != nil {
		return "", time.Time{}, errs.ErrSessionInvalid
	}
	want, err := i.ledger.LongLivedTokenFingerprint(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return "", time.Time{}, errs.ErrSessionInvalid
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load refresh fingerprint: %w", err)
	}
	if len(want) == 0 || subtle.ConstantTimeCompare(want, Fingerprint(refreshToken)) != 1 {
		i.log.Info("superseded refresh token", zap.String("user_id", id.String()))
		return "", time.Time{}, errs.ErrTokenRevoked
	}
	return i.sign(id, KindAccess, i.cfg.AccessTTL, "")
}

// Revoke forgets the identity's refresh token; outstanding access tokens run out on their own.
func (i *Issuer) Revoke(ctx context.Context, id uuid.UUID) error {
	return i.ledger.ClearLongLivedTokenFingerprint(ctx, id)
}

func (i *Issuer) sign(id uuid.UUID, kind Kind, ttl time.Duration, jti string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
		Kind: kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	return signed, exp, err
}

var errWrongKind = errors.New("wrong token kind")

func (i *Issuer) parse(token string, kind Kind) (uuid.UUID, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.cfg.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.cfg.Issuer),
	)
	if err != nil {
		// expiry is checked after the signature, so an expired token of the
		// wrong kind is still reported as a kind mismatch
		if errors.Is(err, jwt.ErrTokenExpired) && claims.Kind != kind {
			return uuid.Nil, errWrongKind
		}
		return uuid.Nil, err
	}
	if claims.Kind != kind {
		return uuid.Nil, errWrongKind
	}
	return uuid.FromString(claims.Subject)
}
