package hotp_test

import (
	"crypto/sha256"
	"encoding/base32"
	"testing"

	cotp "github.com/creachadair/otp"
	potp "github.com/pquerna/otp"
	phot "github.com/pquerna/otp/hotp"

	"github.com/tokdevs/hotpkey/hotp"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func TestGenerateDeterministic(t *testing.T) {
	secret := []byte("orange you glad")
	for _, c := range []uint64{0, 1, 2, 100, 1<<40 + 7} {
		a, err := hotp.Generate(hotp.SHA256, secret, c, 6)
		if err != nil {
			t.Fatalf("Generate(%d): unexpected error: %v", c, err)
		}
		b, err := hotp.Generate(hotp.SHA256, secret, c, 6)
		if err != nil {
			t.Fatalf("Generate(%d): unexpected error: %v", c, err)
		}
		if a != b {
			t.Errorf("Generate(%d) is not deterministic: %q vs %q", c, a, b)
		}
		if len(a) != 6 {
			t.Errorf("Generate(%d): code %q is not 6 digits", c, a)
		}
	}
}

// Codes must agree with an independent HOTP implementation configured for
// SHA-256 keying, for every digit width this device uses.
func TestGenerateAgainstVerifier(t *testing.T) {
	secret, err := b32.DecodeString("TEST")
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	for _, digits := range []int{6, 7, 8} {
		cfg := cotp.Config{Key: string(secret), Hash: sha256.New, Digits: digits}
		for c := uint64(0); c < 20; c++ {
			got, err := hotp.Generate(hotp.SHA256, secret, c, digits)
			if err != nil {
				t.Fatalf("Generate(%d, %d digits): unexpected error: %v", c, digits, err)
			}
			if want := cfg.HOTP(c); got != want {
				t.Errorf("Generate(%d, %d digits): got %q, want %q", c, digits, got, want)
			}
		}
	}
}

// Interop check with a second verifier, exercising the base32-encoded secret
// path a third-party service would use.
func TestGenerateInterop(t *testing.T) {
	const encoded = "TEST"
	secret, err := b32.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	for c := uint64(0); c < 10; c++ {
		got, err := hotp.Generate(hotp.SHA256, secret, c, 6)
		if err != nil {
			t.Fatalf("Generate(%d): unexpected error: %v", c, err)
		}
		want, err := phot.GenerateCodeCustom(encoded, c, phot.ValidateOpts{
			Digits:    potp.DigitsSix,
			Algorithm: potp.AlgorithmSHA256,
		})
		if err != nil {
			t.Fatalf("GenerateCodeCustom(%d): unexpected error: %v", c, err)
		}
		if got != want {
			t.Errorf("Generate(%d): got %q, want %q", c, got, want)
		}
	}
}

func TestTruncateFormatting(t *testing.T) {
	// A digest constructed so the dynamic offset is 0 and the truncated
	// 31-bit value is exactly 1234.
	digest := make([]byte, sha256.Size)
	digest[0], digest[1], digest[2], digest[3] = 0x00, 0x00, 0x04, 0xD2
	digest[sha256.Size-1] = 0xF0 // low nibble 0 selects offset 0

	tests := []struct {
		digits int
		want   string
	}{
		{6, "001234"},
		{7, "0001234"},
		{8, "00001234"},
	}
	for _, tc := range tests {
		got, err := hotp.Truncate(digest, tc.digits)
		if err != nil {
			t.Fatalf("Truncate(%d): unexpected error: %v", tc.digits, err)
		}
		if got != tc.want {
			t.Errorf("Truncate(%d): got %q, want %q", tc.digits, got, tc.want)
		}
	}
}

func TestTruncateMasksTopBit(t *testing.T) {
	digest := make([]byte, sha256.Size)
	for i := range digest {
		digest[i] = 0xFF // all ones; offset 15, window 0xFFFFFFFF
	}
	got, err := hotp.Truncate(digest, 9)
	if err != nil {
		t.Fatalf("Truncate: unexpected error: %v", err)
	}
	// 0x7FFFFFFF = 2147483647
	if want := "147483647"; got != want {
		t.Errorf("Truncate: got %q, want %q", got, want)
	}
}

func TestGenerateBounds(t *testing.T) {
	secret := []byte("key")
	if _, err := hotp.Generate(hotp.SHA256, secret, 0, 0); err == nil {
		t.Error("Generate with 0 digits: got nil, want error")
	}
	if _, err := hotp.Generate(hotp.SHA256, secret, 0, 10); err == nil {
		t.Error("Generate with 10 digits: got nil, want error")
	}
	if _, err := hotp.Truncate(make([]byte, 8), 6); err == nil {
		t.Error("Truncate of short digest: got nil, want error")
	}
}
