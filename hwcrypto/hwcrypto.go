// Package hwcrypto wraps the asynchronous keyed-hash accelerator and the
// at-rest cipher for credential secrets behind synchronous calls.
//
// HMAC computations are started on the hardware engine and waited on through
// the sched bridge, so the call blocks the logical thread of the token while
// the scheduler keeps servicing other pending callbacks. Secrets are
// protected at rest with AES-CTR under a key derived from the device
// passphrase; the ciphertext is the same length as the plaintext and the
// 16-byte IV is generated fresh for every encryption.
package hwcrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/tokdevs/hotpkey/hw"
	"github.com/tokdevs/hotpkey/sched"
)

// MaxPlaintextLen is the longest secret the at-rest cipher accepts.
const MaxPlaintextLen = 64

// IVLen is the length of an at-rest initialization vector.
const IVLen = aes.BlockSize // 16 bytes

// ErrEngineUnavailable is reported when the hash accelerator refuses to
// start an operation.
var ErrEngineUnavailable = errors.New("crypto engine unavailable")

// DefaultTimeout bounds how long a single engine operation may take before
// the facade gives up on its completion callback.
const DefaultTimeout = 5 * time.Second

// DeriveKey derives the 32-byte at-rest cipher key from a device passphrase
// and salt using HKDF-SHA256.
func DeriveKey(passphrase string, salt []byte) []byte {
	h := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("hotpkey at-rest key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		panic(fmt.Sprintf("derive key: %v", err))
	}
	return key
}

// An Engine is the synchronous facade over the hash accelerator and the
// at-rest cipher.
type Engine struct {
	hash    hw.HashEngine
	block   cipher.Block
	timeout time.Duration
}

// New constructs an engine over the given hash accelerator, using atRestKey
// (16, 24, or 32 bytes) for secret storage encryption.
func New(hash hw.HashEngine, atRestKey []byte) (*Engine, error) {
	block, err := aes.NewCipher(atRestKey)
	if err != nil {
		return nil, fmt.Errorf("at-rest key: %w", err)
	}
	return &Engine{hash: hash, block: block, timeout: DefaultTimeout}, nil
}

// SetTimeout adjusts the completion deadline for engine operations.
// A non-positive value restores the default.
func (e *Engine) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	e.timeout = d
}

// HMAC computes the HMAC-SHA256 digest of msg under key, blocking until the
// engine reports completion or the deadline elapses. The completion callback
// registration is scoped to this call: whatever path the call exits by, no
// binding survives into the next operation.
func (e *Engine) HMAC(ctx context.Context, key, msg []byte) ([]byte, error) {
	sig := sched.NewSignal()
	var (
		digest []byte
		hwErr  error
	)
	err := e.hash.StartHMACSHA256(key, msg, func(d []byte, err error) {
		digest, hwErr = d, err
		sig.Set()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if err := sched.WaitTimeout(ctx, sig, e.timeout); err != nil {
		return nil, fmt.Errorf("hmac: %w", err)
	}
	if hwErr != nil {
		return nil, fmt.Errorf("hmac: %w", hwErr)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("hmac: digest is %d bytes, want %d", len(digest), sha256.Size)
	}
	return digest, nil
}

// Encrypt seals plaintext for storage, returning the ciphertext and the
// fresh IV used. The plaintext must be between 1 and MaxPlaintextLen bytes.
func (e *Engine) Encrypt(plaintext []byte) (ciphertext []byte, iv [IVLen]byte, _ error) {
	if len(plaintext) == 0 || len(plaintext) > MaxPlaintextLen {
		return nil, iv, fmt.Errorf("plaintext is %d bytes, want 1..%d", len(plaintext), MaxPlaintextLen)
	}
	if _, err := crand.Read(iv[:]); err != nil {
		return nil, iv, fmt.Errorf("generate iv: %w", err)
	}
	ciphertext = make([]byte, len(plaintext))
	cipher.NewCTR(e.block, iv[:]).XORKeyStream(ciphertext, plaintext)
	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt, recovering the plaintext secret stored under iv.
func (e *Engine) Decrypt(iv [IVLen]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext) > MaxPlaintextLen {
		return nil, fmt.Errorf("ciphertext is %d bytes, want 1..%d", len(ciphertext), MaxPlaintextLen)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(e.block, iv[:]).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
