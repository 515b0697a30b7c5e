package hwcrypto_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/tokdevs/hotpkey/hw/hostsim"
	"github.com/tokdevs/hotpkey/hwcrypto"
	"github.com/tokdevs/hotpkey/sched"
)

func newEngine(t *testing.T) (*hwcrypto.Engine, *hostsim.HashEngine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := sched.NewLoop()
	go loop.Run(ctx)

	hash := hostsim.NewHashEngine(loop)
	e, err := hwcrypto.New(hash, hwcrypto.DeriveKey("wild mass guessing", []byte("salt")))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return e, hash
}

func TestHMAC(t *testing.T) {
	e, hash := newEngine(t)
	ctx := context.Background()

	key, msg := []byte("squeamish ossifrage"), []byte{0, 0, 0, 0, 0, 0, 0, 9}

	got, err := e.HMAC(ctx, key, msg)
	if err != nil {
		t.Fatalf("HMAC: unexpected error: %v", err)
	}
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	if want := m.Sum(nil); !bytes.Equal(got, want) {
		t.Errorf("HMAC: got %x, want %x", got, want)
	}

	t.Run("EngineFailure", func(t *testing.T) {
		hash.Fail = errors.New("blown fuse")
		defer func() { hash.Fail = nil }()
		if got, err := e.HMAC(ctx, key, msg); err == nil {
			t.Errorf("HMAC with failing engine: got %x, want error", got)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		e2, err := hwcrypto.New(stalledEngine{}, make([]byte, 32))
		if err != nil {
			t.Fatalf("New: unexpected error: %v", err)
		}
		e2.SetTimeout(5 * time.Millisecond)
		if _, err := e2.HMAC(ctx, key, msg); !errors.Is(err, sched.ErrTimeout) {
			t.Errorf("HMAC: got error %v, want %v", err, sched.ErrTimeout)
		}
	})
}

// stalledEngine accepts operations but never completes them.
type stalledEngine struct{}

func (stalledEngine) StartHMACSHA256(key, data []byte, done func([]byte, error)) error {
	return nil
}

func TestEncryptRoundTrip(t *testing.T) {
	e, _ := newEngine(t)

	for _, n := range []int{1, 2, 16, 20, 63, 64} {
		secret := bytes.Repeat([]byte{0xA5}, n)
		ctext, iv, err := e.Encrypt(secret)
		if err != nil {
			t.Fatalf("Encrypt %d bytes: unexpected error: %v", n, err)
		}
		if len(ctext) != n {
			t.Errorf("Encrypt %d bytes: ciphertext is %d bytes", n, len(ctext))
		}
		if bytes.Equal(ctext, secret) {
			t.Errorf("Encrypt %d bytes: ciphertext equals plaintext", n)
		}
		got, err := e.Decrypt(iv, ctext)
		if err != nil {
			t.Fatalf("Decrypt %d bytes: unexpected error: %v", n, err)
		}
		if !bytes.Equal(got, secret) {
			t.Errorf("round trip %d bytes: got %x, want %x", n, got, secret)
		}
	}
}

func TestEncryptFreshIV(t *testing.T) {
	e, _ := newEngine(t)

	secret := []byte("such a deal")
	_, iv1, err := e.Encrypt(secret)
	if err != nil {
		t.Fatalf("Encrypt: unexpected error: %v", err)
	}
	_, iv2, err := e.Encrypt(secret)
	if err != nil {
		t.Fatalf("Encrypt: unexpected error: %v", err)
	}
	if iv1 == iv2 {
		t.Errorf("Encrypt reused IV %x", iv1)
	}
}

func TestEncryptBounds(t *testing.T) {
	e, _ := newEngine(t)

	if _, _, err := e.Encrypt(nil); err == nil {
		t.Error("Encrypt(nil): got nil, want error")
	}
	if _, _, err := e.Encrypt(make([]byte, hwcrypto.MaxPlaintextLen+1)); err == nil {
		t.Error("Encrypt(65 bytes): got nil, want error")
	}
	if _, err := e.Decrypt([16]byte{}, nil); err == nil {
		t.Error("Decrypt(empty): got nil, want error")
	}
}

func TestDeriveKeyStable(t *testing.T) {
	k1 := hwcrypto.DeriveKey("pass", []byte("salt"))
	k2 := hwcrypto.DeriveKey("pass", []byte("salt"))
	if !bytes.Equal(k1, k2) {
		t.Errorf("DeriveKey not deterministic: %x vs %x", k1, k2)
	}
	if k3 := hwcrypto.DeriveKey("pass", []byte("other")); bytes.Equal(k1, k3) {
		t.Error("DeriveKey ignores salt")
	}
	if len(k1) != 32 {
		t.Errorf("DeriveKey returned %d bytes, want 32", len(k1))
	}
}
