// Package hotp implements counter-based one-time password generation with
// the truncation and formatting rules of RFC 4226.
//
// The digest is produced by a caller-supplied MAC so that generation can run
// on a hardware keyed-hash engine; this token keys the MAC with HMAC-SHA256
// rather than the SHA-1 of the RFC, so verifiers must be configured to match.
// Given the same secret, counter, and digit count, generation is a pure
// function with no I/O of its own; advancing and persisting the counter is
// the caller's responsibility.
package hotp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// A MAC computes a keyed digest of msg under key.
type MAC func(key, msg []byte) ([]byte, error)

// SHA256 is a host-side MAC computing HMAC-SHA256 in software. It is the
// reference against which a hardware engine must agree.
func SHA256(key, msg []byte) ([]byte, error) {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil), nil
}

// Generate computes the one-time code for the given secret and counter,
// rendered as exactly digits decimal characters. The counter is serialized
// as 8 bytes, most-significant byte first, exactly as RFC 4226 requires.
func Generate(mac MAC, secret []byte, counter uint64, digits int) (string, error) {
	if mac == nil {
		mac = SHA256
	}
	var moving [8]byte
	binary.BigEndian.PutUint64(moving[:], counter)

	digest, err := mac(secret, moving[:])
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}
	return Truncate(digest, digits)
}

// Truncate applies RFC 4226 dynamic truncation to digest and renders the
// result as a zero-padded decimal string of exactly digits characters. The
// low nibble of the final digest byte selects a 4-byte window, whose
// big-endian value with the top bit cleared is reduced mod 10^digits.
func Truncate(digest []byte, digits int) (string, error) {
	if digits < 1 || digits > 9 {
		return "", fmt.Errorf("digit count %d out of range 1..9", digits)
	}
	if len(digest) < 20 {
		return "", fmt.Errorf("digest is %d bytes, want at least 20", len(digest))
	}
	offset := digest[len(digest)-1] & 0x0F
	bin := binary.BigEndian.Uint32(digest[offset:offset+4]) &^ (1 << 31)
	return fmt.Sprintf("%0*d", digits, bin%pow10(digits)), nil
}

func pow10(n int) uint32 {
	v := uint32(1)
	for range n {
		v *= 10
	}
	return v
}
