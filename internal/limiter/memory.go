package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is a process-local limiter. Each (subject, ip) owns a token bucket that
// refills maxFails tokens per window; every failure spends one and an empty
// bucket blocks the key for blockFor.
type Memory struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	blockFor time.Duration
	ttl      time.Duration
	entries  map[string]*bucket
	swept    time.Time
	now      func() time.Time
}

type bucket struct {
	lim          *rate.Limiter
	blockedUntil time.Time
	lastSeen     time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	if maxFails < 1 {
		maxFails = 1
	}
	return &Memory{
		limit:    rate.Every(window / time.Duration(maxFails)),
		burst:    maxFails,
		blockFor: blockFor,
		ttl:      window + blockFor,
		entries:  make(map[string]*bucket),
		now:      time.Now,
	}
}

func memKey(subject string, ipHash []byte) string {
	return subject + "|" + hex.EncodeToString(ipHash)
}

// Allow reports whether the key is currently blocked.
func (m *Memory) Allow(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entries[memKey(subject, ipHash)]
	if b == nil {
		return true, 0, nil
	}
	if left := b.blockedUntil.Sub(now); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

// Success forgets the key.
func (m *Memory) Success(_ context.Context, subject string, ipHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memKey(subject, ipHash))
	return nil
}

// Failure spends one token and blocks the key when the bucket runs dry.
func (m *Memory) Failure(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.swept) >= m.ttl {
		m.sweep(now)
	}

	key := memKey(subject, ipHash)
	b := m.entries[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = b
	}
	b.lastSeen = now

	b.lim.AllowN(now, 1)
	if b.lim.TokensAt(now) >= 1 {
		return false, 0, nil
	}
	b.blockedUntil = now.Add(m.blockFor)
	return true, m.blockFor, nil
}

// sweep drops idle keys; Failure runs it at most once per ttl.
func (m *Memory) sweep(now time.Time) {
	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	m.swept = now
}
