package main

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"os"

	"github.com/creachadair/command"
	"github.com/creachadair/getpass"

	"github.com/tokdevs/hotpkey/config"
	"github.com/tokdevs/hotpkey/hw/hostsim"
	"github.com/tokdevs/hotpkey/hwcrypto"
	"github.com/tokdevs/hotpkey/keydb"
	"github.com/tokdevs/hotpkey/kvstore"
	"github.com/tokdevs/hotpkey/sched"
)

// saltKey is the store key holding the at-rest key derivation salt. It lives
// beside the credential records but is not itself sensitive.
const saltKey = "at-rest-salt"

// A session is an opened token: the backing store, the crypto engine with
// its scheduler loop running, and the loaded credential slots.
type session struct {
	cfg  config.Config
	kv   kvstore.Store
	file *kvstore.File // non-nil only for the file backend
	db   *keydb.DB
	loop *sched.Loop

	cancel context.CancelFunc
}

// openSession opens the backing store named by the settings, derives the
// at-rest key from the device passphrase, starts the scheduler loop, and
// loads the credential slots.
func openSession(env *command.Env) (*session, error) {
	cfg := env.Config.(*settings).cfg

	s := &session{cfg: cfg}
	switch cfg.Store.Backend {
	case config.BackendFile:
		f, err := kvstore.OpenFile(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.kv, s.file = f, f
	case config.BackendSQLite:
		db, err := kvstore.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.kv = db
	case config.BackendMemory:
		s.kv = kvstore.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	pp, err := passphrase(cfg)
	if err != nil {
		s.kv.Close()
		return nil, err
	}
	salt, err := loadOrCreateSalt(s.kv)
	if err != nil {
		s.kv.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loop = sched.NewLoop()
	go s.loop.Run(ctx)

	engine, err := hwcrypto.New(hostsim.NewHashEngine(s.loop), hwcrypto.DeriveKey(pp, salt))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.db, err = keydb.Open(s.kv, engine, &keydb.Options{DemoBootstrap: cfg.DemoSlot})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the scheduler loop and releases the backing store.
func (s *session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.kv != nil {
		s.kv.Close()
	}
}

// passphrase resolves the device passphrase from the configured environment
// variable, or prompts at the terminal with echo disabled.
func passphrase(cfg config.Config) (string, error) {
	if cfg.PassphraseEnv != "" {
		if pp, ok := os.LookupEnv(cfg.PassphraseEnv); ok {
			return pp, nil
		}
	}
	pp, err := getpass.Prompt("Device passphrase: ")
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return pp, nil
}

// loadOrCreateSalt fetches the key-derivation salt from the store, creating
// and persisting a fresh one on first use.
func loadOrCreateSalt(kv kvstore.Store) ([]byte, error) {
	if salt, ok, err := kv.Get(saltKey); err != nil {
		return nil, fmt.Errorf("load salt: %w", err)
	} else if ok && len(salt) > 0 {
		return salt, nil
	}
	salt := make([]byte, 16)
	if _, err := crand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := kv.Set(saltKey, salt); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	return salt, nil
}
