// Package keydb implements the slot-addressed credential store of the token.
//
// A fixed number of slots each hold one HOTP credential: the shared secret
// encrypted at rest, the IV it was sealed under, and the monotonically
// increasing counter. Slots are persisted individually in a kvstore under
// keys derived from the slot index; the record layout is private to this
// package and size-checked on load.
//
// Loading is self-healing: a missing, unreadable, or wrong-sized record
// resets that slot to unconfigured and immediately writes an empty record
// back, so one corrupt slot can never prevent the token from booting.
package keydb

import (
	"context"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/creachadair/mds/mbits"

	"github.com/tokdevs/hotpkey/hotp"
	"github.com/tokdevs/hotpkey/hwcrypto"
	"github.com/tokdevs/hotpkey/kvstore"
)

// NumSlots is the number of credential slots on the token.
const NumSlots = 4

// MaxSecretLen is the longest decoded secret a slot can hold.
const MaxSecretLen = hwcrypto.MaxPlaintextLen

// DefaultSecret is the base32-encoded secret programmed into slot 0 when the
// backing store is empty and demo bootstrap is enabled. It exists so a fresh
// device can be exercised against a verifier out of the box; it is a
// usability default, not a security recommendation.
const DefaultSecret = "test"

// slotDigits fixes the code length for each slot index. Changing a width
// would invalidate verifier expectations, so they are not configurable.
var slotDigits = [NumSlots]int{6, 6, 7, 8}

// Digits reports the code length of slot i.
func Digits(i int) int { return slotDigits[i] }

// ErrUnconfigured is reported when a code is requested from a slot that has
// no programmed secret.
var ErrUnconfigured = errors.New("slot is not configured")

// Persisted record layout: 1 length byte, the IV, the ciphertext padded to
// MaxSecretLen, and the big-endian counter.
const recordSize = 1 + hwcrypto.IVLen + MaxSecretLen + 8

func slotKey(i int) string { return fmt.Sprintf("hotp-key-%d", i) }

// A Slot is one credential: an encrypted secret with its HOTP counter.
type Slot struct {
	Configured bool                 // a secret has been programmed
	Digits     int                  // code length, fixed per index
	Secret     []byte               // ciphertext of the shared secret
	IV         [hwcrypto.IVLen]byte // IV the secret was sealed under
	Counter    uint64               // next moving factor; strictly increasing
}

func (s *Slot) encode() []byte {
	buf := make([]byte, recordSize)
	buf[0] = byte(len(s.Secret))
	copy(buf[1:1+hwcrypto.IVLen], s.IV[:])
	copy(buf[1+hwcrypto.IVLen:], s.Secret)
	binary.BigEndian.PutUint64(buf[recordSize-8:], s.Counter)
	return buf
}

func decodeSlot(digits int, data []byte) (Slot, error) {
	s := Slot{Digits: digits}
	if len(data) != recordSize {
		return s, fmt.Errorf("record is %d bytes, want %d", len(data), recordSize)
	}
	n := int(data[0])
	if n > MaxSecretLen {
		return s, fmt.Errorf("secret length %d exceeds %d", n, MaxSecretLen)
	}
	if n == 0 {
		return s, nil // unconfigured: IV and counter are ignored
	}
	s.Configured = true
	copy(s.IV[:], data[1:1+hwcrypto.IVLen])
	s.Secret = append([]byte(nil), data[1+hwcrypto.IVLen:1+hwcrypto.IVLen+n]...)
	s.Counter = binary.BigEndian.Uint64(data[recordSize-8:])
	return s, nil
}

// Options control store construction.
type Options struct {
	// DemoBootstrap, if true, programs slot 0 with DefaultSecret when the
	// backing store holds no record for it at all.
	DemoBootstrap bool
}

// A DB is the in-memory view of the credential slots, backed by a kvstore
// and a crypto engine. It is not safe for concurrent use; the token's
// single-threaded dispatcher is the only expected caller.
type DB struct {
	kv     kvstore.Store
	engine *hwcrypto.Engine
	slots  [NumSlots]Slot
}

// Open loads all slots from kv, self-healing damaged or missing records.
// Open never fails because of a corrupt slot; it reports an error only for
// missing collaborators.
func Open(kv kvstore.Store, engine *hwcrypto.Engine, opts *Options) (*DB, error) {
	if kv == nil || engine == nil {
		return nil, errors.New("keydb: missing store or engine")
	}
	if opts == nil {
		opts = &Options{}
	}
	db := &DB{kv: kv, engine: engine}
	for i := range db.slots {
		fresh := db.loadSlot(i)
		if i == 0 && fresh && opts.DemoBootstrap {
			if err := db.Program(0, DefaultSecret); err != nil {
				log.Printf("WARNING: Program default secret: %v (skipped)", err)
			}
		}
	}
	return db, nil
}

// loadSlot reads slot i from the backing store, resetting it on any failure.
// It reports whether the store had no record for the slot at all.
func (db *DB) loadSlot(i int) (fresh bool) {
	db.slots[i] = Slot{Digits: slotDigits[i]}

	data, ok, err := db.kv.Get(slotKey(i))
	if err == nil && ok {
		s, derr := decodeSlot(slotDigits[i], data)
		if derr == nil {
			db.slots[i] = s
			return false
		}
		log.Printf("WARNING: Load slot %d: %v (resetting)", i, derr)
	} else if err != nil {
		log.Printf("WARNING: Load slot %d: %v (resetting)", i, err)
	}

	// Missing or damaged: persist an empty record in its place.
	if serr := db.Save(i); serr != nil {
		log.Printf("WARNING: Reset slot %d: %v", i, serr)
	}
	return err == nil && !ok
}

// Reload re-reads all slots from the backing store, discarding the in-memory
// state. It is used when the store has been modified externally.
func (db *DB) Reload() {
	for i := range db.slots {
		db.loadSlot(i)
	}
}

// Slot returns a copy of slot i.
func (db *DB) Slot(i int) (Slot, error) {
	if err := db.checkSlot(i); err != nil {
		return Slot{}, err
	}
	s := db.slots[i]
	s.Secret = append([]byte(nil), s.Secret...)
	return s, nil
}

// Save serializes slot i and writes it synchronously to the backing store.
// On failure the slot's state survives only in memory; the caller may retry
// or accept loss of the update on power-down.
func (db *DB) Save(i int) error {
	if err := db.checkSlot(i); err != nil {
		return err
	}
	if err := db.kv.Set(slotKey(i), db.slots[i].encode()); err != nil {
		return fmt.Errorf("save slot %d: %w", i, err)
	}
	return nil
}

// Program decodes and encrypts a user-supplied base32 secret into slot i,
// resetting its counter, and persists the slot in one durable write. On any
// failure the slot is left unconfigured and nothing is partially persisted.
func (db *DB) Program(i int, encoded string) error {
	if err := db.checkSlot(i); err != nil {
		return err
	}
	secret, err := DecodeSecret(encoded)
	if err != nil {
		db.slots[i] = Slot{Digits: slotDigits[i]}
		return fmt.Errorf("decode secret: %w", err)
	}
	ctext, iv, cerr := db.engine.Encrypt(secret)
	mbits.Zero(secret)
	if cerr != nil {
		db.slots[i] = Slot{Digits: slotDigits[i]}
		return fmt.Errorf("encrypt secret: %w", cerr)
	}
	db.slots[i] = Slot{
		Configured: true,
		Digits:     slotDigits[i],
		Secret:     ctext,
		IV:         iv,
	}
	return db.Save(i)
}

// NextCode generates the next one-time code for slot i. The advanced counter
// is persisted before the code is returned: a save failure aborts the
// emission, so a crash can never make an already-emitted code regenerable.
func (db *DB) NextCode(ctx context.Context, i int) (string, error) {
	if err := db.checkSlot(i); err != nil {
		return "", err
	}
	s := &db.slots[i]
	if !s.Configured {
		return "", fmt.Errorf("slot %d: %w", i, ErrUnconfigured)
	}

	secret, err := db.engine.Decrypt(s.IV, s.Secret)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	code, err := hotp.Generate(func(key, msg []byte) ([]byte, error) {
		return db.engine.HMAC(ctx, key, msg)
	}, secret, s.Counter, s.Digits)
	mbits.Zero(secret)
	if err != nil {
		return "", err
	}

	s.Counter++
	if err := db.Save(i); err != nil {
		return "", err
	}
	return code, nil
}

func (db *DB) checkSlot(i int) error {
	if i < 0 || i >= NumSlots {
		return fmt.Errorf("no slot %d", i)
	}
	return nil
}

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeSecret decodes a user-supplied base32 secret. Case is folded and
// padding is not required, matching what provisioning tools emit.
func DecodeSecret(encoded string) ([]byte, error) {
	clean := strings.ToUpper(strings.TrimRight(strings.TrimSpace(encoded), "="))
	if clean == "" {
		return nil, errors.New("empty secret")
	}
	secret, err := secretEncoding.DecodeString(clean)
	if err != nil {
		return nil, err
	}
	if len(secret) > MaxSecretLen {
		return nil, fmt.Errorf("secret is %d bytes, want at most %d", len(secret), MaxSecretLen)
	}
	return secret, nil
}
