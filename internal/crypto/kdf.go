package crypto

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/pbkdf2"

	"github.com/and161185/passvault/internal/errs"
)

// KeySize is the length of a derived key, matching AES-256.
const KeySize = 32

// MinSaltLen is the shortest encryption salt accepted by DeriveKey.
const MinSaltLen = 16

// DefaultKDFIterations is the PBKDF2 work factor used when none is configured.
const DefaultKDFIterations = 100_000

// KDFParams controls the cost of DeriveKey.
type KDFParams struct {
	Iterations int
}

// DefaultKDFParams returns the default work factor.
func DefaultKDFParams() KDFParams { return KDFParams{Iterations: DefaultKDFIterations} }

// Key is a derived symmetric key. It lives for one operation and is wiped afterwards.
type Key struct {
	b [KeySize]byte
}

// Bytes exposes the key material. The slice aliases the key and is zeroed by Wipe.
func (k *Key) Bytes() []byte { return k.b[:] }

// Wipe zeroes the key material.
func (k *Key) Wipe() {
	if k == nil {
		return
	}
	memguard.WipeBytes(k.b[:])
}

// DeriveKey stretches secret with salt into a KeySize key using PBKDF2-HMAC-SHA256.
// It is deterministic and fails only on malformed parameters; a wrong secret
// simply yields a different key.
func DeriveKey(secret, salt []byte, p KDFParams) (*Key, error) {
	if len(salt) < MinSaltLen {
		return nil, fmt.Errorf("salt length %d: %w", len(salt), errs.ErrMalformedInput)
	}
	if p.Iterations <= 0 {
		return nil, fmt.Errorf("kdf iterations %d: %w", p.Iterations, errs.ErrMalformedInput)
	}
	raw := pbkdf2.Key(secret, salt, p.Iterations, KeySize, sha256.New)
	k := &Key{}
	copy(k.b[:], raw)
	memguard.WipeBytes(raw)
	return k, nil
}

// MeasureKDF reports how long one derivation takes with p on this host.
func MeasureKDF(p KDFParams) (time.Duration, error) {
	salt, err := RandBytes(MinSaltLen)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	k, err := DeriveKey([]byte("calibration"), salt, p)
	if err != nil {
		return 0, err
	}
	k.Wipe()
	return time.Since(start), nil
}
