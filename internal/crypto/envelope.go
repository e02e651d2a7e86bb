package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
)

// AES-256-GCM sizes.
const (
	NonceSize = 12
	TagSize   = 16
)

func newGCM(key *Key) (cipher.AEAD, error) {
	if key == nil {
		return nil, fmt.Errorf("nil key: %w", errs.ErrMalformedInput)
	}
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("aes: %w", errs.ErrMalformedInput)
	}
	return cipher.NewGCMWithTagSize(block, TagSize)
}

// Seal encrypts plaintext under key with a fresh random nonce.
// aad is authenticated but not encrypted and must be presented again to Open.
func Seal(key *Key, plaintext, aad []byte) (model.Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return model.Envelope{}, err
	}
	nonce, err := RandBytes(NonceSize)
	if err != nil {
		return model.Envelope{}, err
	}
	out := aead.Seal(nil, nonce, plaintext, aad)
	split := len(out) - TagSize
	return model.Envelope{
		Ciphertext: out[:split:split],
		Nonce:      nonce,
		Tag:        out[split:],
	}, nil
}

// Open authenticates and decrypts env. Any mismatch of ciphertext, nonce, tag,
// aad or key returns errs.ErrAuthenticationFailed and no plaintext.
func Open(key *Key, env model.Envelope, aad []byte) ([]byte, error) {
	if len(env.Nonce) != NonceSize || len(env.Tag) != TagSize {
		return nil, fmt.Errorf("envelope nonce=%d tag=%d: %w", len(env.Nonce), len(env.Tag), errs.ErrMalformedInput)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	pt, err := aead.Open(nil, env.Nonce, sealed, aad)
	if err != nil {
		return nil, errs.ErrAuthenticationFailed
	}
	return pt, nil
}

// RecordAAD binds an envelope to its owner and record so it cannot be moved
// to another row undetected.
func RecordAAD(ownerID, recordID [16]byte) []byte {
	aad := make([]byte, 0, 32)
	aad = append(aad, ownerID[:]...)
	return append(aad, recordID[:]...)
}
