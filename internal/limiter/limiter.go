// Package limiter throttles repeated authentication failures (logins per
// (email, client) and master secret attempts per (account, client)) and caps
// request volume for registrations and password operations.
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// Limiter controls attempts and temporary lockouts for a subject seen from a client.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, subject string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash of the client host so raw addresses are never stored.
// The port is dropped: every connection from one host gets a new ephemeral port.
func HashIP(addr string) []byte {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil && h != "" {
		host = h
	}
	sum := sha256.Sum256([]byte(host))
	return sum[:]
}

// Spend admits one attempt under a volume cap. Every admitted attempt is
// counted, successful or not; once the cap is spent the key stays blocked
// until the limiter's block expires.
func Spend(ctx context.Context, l Limiter, subject string, ipHash []byte) (bool, time.Duration, error) {
	ok, left, err := l.Allow(ctx, subject, ipHash)
	if err != nil || !ok {
		return false, left, err
	}
	if _, _, err := l.Failure(ctx, subject, ipHash); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}
