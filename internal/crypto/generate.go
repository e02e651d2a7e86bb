package crypto

import (
	"crypto/rand"
	"math/big"
)

// Password generator bounds.
const (
	DefaultPasswordLength = 16
	MinPasswordLength     = 8
	MaxPasswordLength     = 128
)

// PasswordCharset is the alphabet used by GeneratePassword.
const PasswordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_+-=[]{}|;:,.<>?"

// GeneratePassword returns a random password drawn uniformly from PasswordCharset.
// length <= 0 selects the default; other values are clamped to the allowed range.
func GeneratePassword(length int) (string, error) {
	switch {
	case length <= 0:
		length = DefaultPasswordLength
	case length < MinPasswordLength:
		length = MinPasswordLength
	case length > MaxPasswordLength:
		length = MaxPasswordLength
	}
	max := big.NewInt(int64(len(PasswordCharset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = PasswordCharset[n.Int64()]
	}
	return string(out), nil
}
