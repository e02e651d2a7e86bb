// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects the short-lived access token and the long-lived refresh token.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time // access token expiry
	RefreshExpiresAt time.Time
}

// User represents an account stored on the server. The master secret is never stored.
type User struct {
	ID         uuid.UUID // PK
	Email      string    // unique, lower-cased
	SecretHash string    // encoded argon2id verification hash
	EncSalt    []byte    // per-user salt for encryption key derivation, immutable
	// RefreshFingerprint is SHA-256 of the single active refresh token, nil when logged out.
	RefreshFingerprint []byte
	LastLogin          *time.Time
	CreatedAt          time.Time
}

// VerificationMaterial is what the gate needs to check a master secret and derive a key.
type VerificationMaterial struct {
	SecretHash string
	EncSalt    []byte
}

// Envelope is the (ciphertext, nonce, tag) triple protecting one plaintext field.
// The three parts are always stored and loaded together.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// Credential is a stored site login with its password sealed in an Envelope.
type Credential struct {
	ID        uuid.UUID
	UserID    uuid.UUID // FK -> users.id
	Site      string
	Username  string
	Envelope  Envelope
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary returns the credential metadata without the sealed password.
func (c Credential) Summary() CredentialSummary {
	return CredentialSummary{
		ID:        c.ID,
		Site:      c.Site,
		Username:  c.Username,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// CredentialSummary is the list view of a credential.
type CredentialSummary struct {
	ID        uuid.UUID
	Site      string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
