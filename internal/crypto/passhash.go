// Package crypto implements the vault's cryptographic core: master secret
// verification hashing, encryption key derivation and record envelopes.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HashParams are the Argon2id parameters for the verification hash.
type HashParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
	SaltLen int
	KeyLen  uint32
}

// DefaultHashParams are tuned for server-side hashing.
var DefaultHashParams = HashParams{
	Time:    3,
	Memory:  64 * 1024, // 64 MB
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

// ErrInvalidHash indicates an encoded verification hash that cannot be parsed.
var ErrInvalidHash = errors.New("invalid secret hash")

const hashPrefix = "argon2id$"

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashSecret returns an encoded Argon2id hash of secret with a fresh internal salt.
// The internal salt is unrelated to the encryption salt.
func HashSecret(p HashParams, secret []byte) (string, error) {
	salt, err := RandBytes(p.SaltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	// argon2id$v=<V>$m=<M>,t=<T>,p=<P>$<b64(salt)>$<b64(key)>
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		hashPrefix, argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret checks secret against an encoded hash in constant time.
func VerifySecret(secret []byte, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, hashPrefix) {
		return false, ErrInvalidHash
	}
	parts := strings.Split(encoded[len(hashPrefix):], "$")
	if len(parts) != 4 {
		return false, ErrInvalidHash
	}

	var v int
	if _, err := fmt.Sscanf(parts[0], "v=%d", &v); err != nil || v != argon2.Version {
		return false, ErrInvalidHash
	}
	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey(secret, salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
