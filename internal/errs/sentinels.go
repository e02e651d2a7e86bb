// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Crypto core sentinels.
var (
	// ErrMalformedInput indicates a wrong-length key, salt, nonce or tag.
	ErrMalformedInput = errors.New("malformed input")

	// ErrAuthenticationFailed indicates an envelope failed to open: tag mismatch,
	// tampered data or wrong key. Callers cannot tell which.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRejected indicates the master secret gate refused the supplied secret.
	ErrRejected = errors.New("rejected")
)

// Session sentinels.
var (
	// ErrSessionExpired indicates an otherwise valid access token is past expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionInvalid indicates a token that cannot be trusted at all.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrTokenRevoked indicates a refresh token that is no longer the recorded one.
	ErrTokenRevoked = errors.New("token revoked")
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed login.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates request fields failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)
