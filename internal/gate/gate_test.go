package gate

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/passvault/internal/crypto"
	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
)

var (
	testKDF  = crypto.KDFParams{Iterations: 1000}
	testHash = crypto.HashParams{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32}
)

type fakeSource struct {
	m   map[uuid.UUID]model.VerificationMaterial
	err error
}

var _ MaterialSource = (*fakeSource)(nil)

func (f *fakeSource) GetVerificationMaterial(_ context.Context, id uuid.UUID) (model.VerificationMaterial, error) {
	if f.err != nil {
		return model.VerificationMaterial{}, f.err
	}
	m, ok := f.m[id]
	if !ok {
		return model.VerificationMaterial{}, errs.ErrNotFound
	}
	return m, nil
}

func newAccount(t *testing.T, secret string) (*fakeSource, uuid.UUID, []byte) {
	t.Helper()
	hash, err := crypto.HashSecret(testHash, []byte(secret))
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	salt, err := crypto.RandBytes(32)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	id := uuid.Must(uuid.NewV4())
	src := &fakeSource{m: map[uuid.UUID]model.VerificationMaterial{id: {SecretHash: hash, EncSalt: salt}}}
	return src, id, salt
}

func newGate(t *testing.T, src MaterialSource) *Gate {
	t.Helper()
	g, err := New(src, testKDF, testHash, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGate_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src, id, salt := newAccount(t, "Correct-Horse9!")
	g := newGate(t, src)

	sealKey, err := crypto.DeriveKey([]byte("Correct-Horse9!"), salt, testKDF)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	env, err := crypto.Seal(sealKey, []byte("s3cr3t-site-password"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	key, err := g.Authorize(ctx, id, []byte("Correct-Horse9!"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	pt, err := crypto.Open(key, env, nil)
	if err != nil {
		t.Fatalf("Open with gate key: %v", err)
	}
	if string(pt) != "s3cr3t-site-password" {
		t.Fatalf("plaintext mismatch: %q", pt)
	}
	key.Wipe()

	key, err = g.Authorize(ctx, id, []byte("wrong-guess"))
	if !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("wrong secret: err=%v, want ErrRejected", err)
	}
	if key != nil {
		t.Fatalf("key produced on rejection")
	}
}

func TestGate_UnknownIdentityLooksLikeWrongSecret(t *testing.T) {
	t.Parallel()
	src, _, _ := newAccount(t, "Correct-Horse9!")
	g := newGate(t, src)

	_, err := g.Authorize(context.Background(), uuid.Must(uuid.NewV4()), []byte("Correct-Horse9!"))
	if !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("unknown identity: err=%v, want ErrRejected", err)
	}
}

func TestGate_KeyUsesEncryptionSalt(t *testing.T) {
	t.Parallel()
	src, id, salt := newAccount(t, "Correct-Horse9!")
	g := newGate(t, src)

	key, err := g.Authorize(context.Background(), id, []byte("Correct-Horse9!"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	want, _ := crypto.DeriveKey([]byte("Correct-Horse9!"), salt, testKDF)
	if !bytes.Equal(key.Bytes(), want.Bytes()) {
		t.Fatalf("gate key is not derived from the encryption salt")
	}
}

func TestGate_WithKeyWipesAfterUse(t *testing.T) {
	t.Parallel()
	src, id, _ := newAccount(t, "Correct-Horse9!")
	g := newGate(t, src)

	var held *crypto.Key
	err := g.WithKey(context.Background(), id, []byte("Correct-Horse9!"), func(k *crypto.Key) error {
		if bytes.Equal(k.Bytes(), make([]byte, crypto.KeySize)) {
			t.Fatalf("key is zero inside scope")
		}
		held = k
		return nil
	})
	if err != nil {
		t.Fatalf("WithKey: %v", err)
	}
	if !bytes.Equal(held.Bytes(), make([]byte, crypto.KeySize)) {
		t.Fatalf("key not wiped after scope")
	}

	boom := errors.New("boom")
	err = g.WithKey(context.Background(), id, []byte("Correct-Horse9!"), func(k *crypto.Key) error {
		held = k
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("fn error not propagated: %v", err)
	}
	if !bytes.Equal(held.Bytes(), make([]byte, crypto.KeySize)) {
		t.Fatalf("key not wiped after failing scope")
	}

	called := false
	err = g.WithKey(context.Background(), id, []byte("nope"), func(*crypto.Key) error { called = true; return nil })
	if !errors.Is(err, errs.ErrRejected) || called {
		t.Fatalf("rejected scope: err=%v called=%v", err, called)
	}
}

func TestGate_OpenFailurePropagatesVerbatim(t *testing.T) {
	t.Parallel()
	src, id, _ := newAccount(t, "Correct-Horse9!")
	g := newGate(t, src)

	otherKey, _ := crypto.DeriveKey([]byte("x"), bytes.Repeat([]byte{1}, 32), testKDF)
	env, _ := crypto.Seal(otherKey, []byte("pw"), nil)

	err := g.WithKey(context.Background(), id, []byte("Correct-Horse9!"), func(k *crypto.Key) error {
		_, err := crypto.Open(k, env, nil)
		return err
	})
	if !errors.Is(err, errs.ErrAuthenticationFailed) {
		t.Fatalf("err=%v, want ErrAuthenticationFailed", err)
	}
}

func TestGate_SourceErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("db down")
	g := newGate(t, &fakeSource{err: boom})
	_, err := g.Authorize(context.Background(), uuid.Must(uuid.NewV4()), []byte("x"))
	if !errors.Is(err, boom) || errors.Is(err, errs.ErrRejected) {
		t.Fatalf("storage failure should not read as rejection: %v", err)
	}

	id := uuid.Must(uuid.NewV4())
	g = newGate(t, &fakeSource{m: map[uuid.UUID]model.VerificationMaterial{id: {SecretHash: "garbage", EncSalt: make([]byte, 32)}}})
	_, err = g.Authorize(context.Background(), id, []byte("x"))
	if !errors.Is(err, errs.ErrRejected) {
		t.Fatalf("corrupt hash: err=%v, want ErrRejected", err)
	}
}
