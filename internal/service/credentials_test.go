package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/passvault/internal/crypto"
	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/gate"
	"github.com/and161185/passvault/internal/limiter"
	"github.com/and161185/passvault/internal/repository/memory"
)

const testSecret = "Correct-Horse9!"

type vaultFixture struct {
	svc   *CredentialServiceImpl
	repo  *memory.CredentialRepo
	alice uuid.UUID
	bob   uuid.UUID
}

func newVault(t *testing.T, lim limiter.Limiter) vaultFixture {
	t.Helper()
	return newVaultWithOps(t, lim, limiter.NewMemory(time.Minute, 1000, time.Minute))
}

func newVaultWithOps(t *testing.T, lim, ops limiter.Limiter) vaultFixture {
	t.Helper()
	ctx := context.Background()
	users := memory.NewUserRepo()
	auth := newAuth(t, users, &fakeSessions{}, &fakeLimiter{allowOK: true})

	alice, _, err := auth.Register(ctx, "alice@example.com", testSecret, "")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, _, err := auth.Register(ctx, "bob@example.com", "Bobs-Secret42?", "")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	g, err := gate.New(users, pkgcrypto.KDFParams{Iterations: 1000}, testHash, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	repo := memory.NewCredentialRepo()
	return vaultFixture{
		svc:   NewCredentialService(repo, g, lim, ops, zaptest.NewLogger(t)),
		repo:  repo,
		alice: alice.ID,
		bob:   bob.ID,
	}
}

func TestCredentials_CreateListReveal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newVault(t, &fakeLimiter{allowOK: true})

	sum, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: " example.com ", Username: "alice", Password: "hunter2"}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sum.Site != "example.com" || sum.Username != "alice" || sum.ID == uuid.Nil {
		t.Fatalf("bad summary: %+v", sum)
	}

	stored, err := f.repo.Get(ctx, f.alice, sum.ID)
	if err != nil {
		t.Fatalf("repo.Get: %v", err)
	}
	if bytes.Contains(stored.Envelope.Ciphertext, []byte("hunter2")) {
		t.Fatalf("password stored in clear")
	}

	list, err := f.svc.List(ctx, f.alice)
	if err != nil || len(list) != 1 || list[0].ID != sum.ID {
		t.Fatalf("List: %+v %v", list, err)
	}
	if list, _ := f.svc.List(ctx, f.bob); len(list) != 0 {
		t.Fatalf("bob sees alice's records: %+v", list)
	}

	pw, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, "")
	if err != nil || pw != "hunter2" {
		t.Fatalf("Reveal: %q %v", pw, err)
	}
}

func TestCredentials_WrongSecretRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim := &fakeLimiter{allowOK: true}
	f := newVault(t, lim)

	sum, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "example.com", Username: "alice", Password: "pw"}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, "Wrong-Secret99!", ""); !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if _, err := f.svc.Create(ctx, f.alice, "", CredentialInput{Site: "other.org", Username: "a", Password: "pw"}, ""); !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("empty secret: want ErrRejected, got %v", err)
	}
	if lim.failureCalls != 2 {
		t.Fatalf("failures counted=%d", lim.failureCalls)
	}
	if list, _ := f.svc.List(ctx, f.alice); len(list) != 1 {
		t.Fatalf("rejected create stored a record: %+v", list)
	}

	// bob authenticates as himself but cannot reach alice's record
	if _, err := f.svc.Reveal(ctx, f.bob, sum.ID, "Bobs-Secret42?", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("cross-user reveal: %v", err)
	}
	// and alice's secret does not open bob's vault
	if _, err := f.svc.Reveal(ctx, f.bob, sum.ID, testSecret, ""); !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("alice's secret on bob: %v", err)
	}
}

func TestCredentials_LockoutAfterRepeatedRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newVault(t, limiter.NewMemory(time.Hour, 3, time.Hour))

	sum, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "example.com", Username: "alice", Password: "pw"}, "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, "nope", "10.0.0.1:5001"); !errors.Is(err, errs.ErrRejected) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, "nope", "10.0.0.1:5002"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("third rejection should lock out: %v", err)
	}
	if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, "10.0.0.1:5003"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("locked out even with the right secret: %v", err)
	}
	if pw, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, "10.0.0.2:5000"); err != nil || pw != "pw" {
		t.Fatalf("other client must not be locked: %q %v", pw, err)
	}
}

func TestCredentials_UpdateReseals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newVault(t, &fakeLimiter{allowOK: true})

	sum, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "example.com", Username: "alice", Password: "first"}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, _ := f.repo.Get(ctx, f.alice, sum.ID)

	upd, err := f.svc.Update(ctx, f.alice, sum.ID, testSecret, CredentialInput{Site: "example.org", Username: "alice2"}, "")
	if err != nil {
		t.Fatalf("Update keep password: %v", err)
	}
	if upd.Site != "example.org" || upd.Username != "alice2" {
		t.Fatalf("metadata not updated: %+v", upd)
	}
	after, _ := f.repo.Get(ctx, f.alice, sum.ID)
	if bytes.Equal(before.Envelope.Nonce, after.Envelope.Nonce) {
		t.Fatalf("update must reseal under a fresh nonce")
	}
	if pw, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, ""); err != nil || pw != "first" {
		t.Fatalf("password not kept: %q %v", pw, err)
	}

	if _, err := f.svc.Update(ctx, f.alice, sum.ID, testSecret, CredentialInput{Site: "example.org", Username: "alice2", Password: "second"}, ""); err != nil {
		t.Fatalf("Update new password: %v", err)
	}
	if pw, _ := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, ""); pw != "second" {
		t.Fatalf("password not replaced: %q", pw)
	}

	if _, err := f.svc.Update(ctx, f.alice, uuid.Must(uuid.NewV4()), testSecret, CredentialInput{Site: "example.org", Username: "x"}, ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestCredentials_TamperedEnvelope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newVault(t, &fakeLimiter{allowOK: true})

	a, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "a.example", Username: "u", Password: "pa"}, "")
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "b.example", Username: "u", Password: "pb"}, "")
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	// swapping envelopes between records must not open
	ra, _ := f.repo.Get(ctx, f.alice, a.ID)
	rb, _ := f.repo.Get(ctx, f.alice, b.ID)
	ra.Envelope = rb.Envelope
	if err := f.repo.Update(ctx, ra); err != nil {
		t.Fatalf("repo.Update: %v", err)
	}
	if _, err := f.svc.Reveal(ctx, f.alice, a.ID, testSecret, ""); !errors.Is(err, errs.ErrAuthenticationFailed) {
		t.Fatalf("swapped envelope: %v", err)
	}

	rb.Envelope.Tag[0] ^= 1
	if err := f.repo.Update(ctx, rb); err != nil {
		t.Fatalf("repo.Update: %v", err)
	}
	if _, err := f.svc.Reveal(ctx, f.alice, b.ID, testSecret, ""); !errors.Is(err, errs.ErrAuthenticationFailed) {
		t.Fatalf("flipped tag: %v", err)
	}
	if _, err := f.svc.Update(ctx, f.alice, b.ID, testSecret, CredentialInput{Site: "b.example", Username: "u"}, ""); !errors.Is(err, errs.ErrAuthenticationFailed) {
		t.Fatalf("update over a tampered envelope must fail: %v", err)
	}
}

func TestCredentials_ValidationAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim := &fakeLimiter{allowOK: true}
	f := newVault(t, lim)

	bad := []CredentialInput{
		{Site: "ab", Username: "u", Password: "p"},
		{Site: strings.Repeat("s", 501), Username: "u", Password: "p"},
		{Site: "site", Username: "", Password: "p"},
		{Site: "site", Username: strings.Repeat("u", 101), Password: "p"},
		{Site: "site", Username: "u", Password: ""},
		{Site: "site", Username: "u", Password: strings.Repeat("p", 501)},
	}
	for i, in := range bad {
		if _, err := f.svc.Create(ctx, f.alice, testSecret, in, ""); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("case %d: want ErrInvalidArgument, got %v", i, err)
		}
	}
	if lim.allowCalls != 0 {
		t.Fatalf("invalid input must fail before the gate")
	}

	sum, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "example.com", Username: "u", Password: "p"}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.svc.Delete(ctx, f.bob, sum.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("bob deleted alice's record: %v", err)
	}
	if err := f.svc.Delete(ctx, f.alice, sum.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.Delete(ctx, f.alice, sum.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestCredentials_LimiterBlocksBeforeGate(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowOK: false}
	f := newVault(t, lim)

	_, err := f.svc.Create(context.Background(), f.alice, testSecret, CredentialInput{Site: "example.com", Username: "u", Password: "p"}, "")
	if !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if lim.subjects[0] != "gate:"+f.alice.String() {
		t.Fatalf("limiter subject=%q", lim.subjects[0])
	}
}

func TestCredentials_GeneratePassword(t *testing.T) {
	t.Parallel()
	f := newVault(t, &fakeLimiter{allowOK: true})
	pw, err := f.svc.GeneratePassword(24)
	if err != nil || len(pw) != 24 {
		t.Fatalf("GeneratePassword: %q %v", pw, err)
	}
}

func TestCredentials_OperationsCappedPerClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newVaultWithOps(t, &fakeLimiter{allowOK: true}, limiter.NewMemory(5*time.Minute, 30, 5*time.Minute))

	sum, err := f.svc.Create(ctx, f.alice, testSecret, CredentialInput{Site: "example.com", Username: "alice", Password: "pw"}, "10.0.0.1:1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 2; i <= 30; i++ {
		if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, "10.0.0.1:1"); err != nil {
			t.Fatalf("operation %d: %v", i, err)
		}
	}
	if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, "10.0.0.1:2"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("operation 31 with the right secret: want ErrRateLimited, got %v", err)
	}
	if _, err := f.svc.Reveal(ctx, f.alice, sum.ID, testSecret, "10.0.0.2:1"); err != nil {
		t.Fatalf("other client must keep its budget: %v", err)
	}
	if _, err := f.svc.Create(ctx, f.bob, "Bobs-Secret42?", CredentialInput{Site: "example.com", Username: "bob", Password: "pw"}, "10.0.0.1:3"); err != nil {
		t.Fatalf("other user on the same client must keep its budget: %v", err)
	}
	if list, err := f.svc.List(ctx, f.alice); err != nil || len(list) != 1 {
		t.Fatalf("List needs no secret and is not capped: %d %v", len(list), err)
	}
}

func TestCredentials_AcceptedSecretClearsRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	lim := &fakeLimiter{allowOK: true}
	f := newVault(t, lim)

	// the gate accepts bob's secret; the record lookup fails afterwards
	if _, err := f.svc.Reveal(ctx, f.bob, uuid.Must(uuid.NewV4()), "Bobs-Secret42?", ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if lim.successCalls != 1 || lim.failureCalls != 0 {
		t.Fatalf("success=%d failure=%d, want 1/0", lim.successCalls, lim.failureCalls)
	}

	if _, err := f.svc.Reveal(ctx, f.bob, uuid.Must(uuid.NewV4()), "Wrong-Secret99!", ""); !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("want ErrRejected, got %v", err)
	}
	if lim.successCalls != 1 || lim.failureCalls != 1 {
		t.Fatalf("success=%d failure=%d, want 1/1", lim.successCalls, lim.failureCalls)
	}
}

func TestCredentials_AcceptedSecretResetsLockoutCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newVault(t, limiter.NewMemory(time.Hour, 3, time.Hour))
	ip := "10.0.0.9:1"

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			if _, err := f.svc.Reveal(ctx, f.alice, uuid.Must(uuid.NewV4()), "nope", ip); !errors.Is(err, errs.ErrRejected) {
				t.Fatalf("round %d attempt %d: %v", round, i, err)
			}
		}
		// right secret, missing record: still clears the two rejections
		if _, err := f.svc.Reveal(ctx, f.alice, uuid.Must(uuid.NewV4()), testSecret, ip); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("round %d: want ErrNotFound, got %v", round, err)
		}
	}
}
