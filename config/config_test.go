package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokdevs/hotpkey/config"
)

func TestDefaults(t *testing.T) {
	c, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if c.Store.Backend != config.BackendFile {
		t.Errorf("default backend: got %q, want %q", c.Store.Backend, config.BackendFile)
	}
	if !c.DemoSlot {
		t.Error("demo slot not enabled by default")
	}
	if got, want := c.HoldDelay(), 500*time.Millisecond; got != want {
		t.Errorf("default hold delay: got %v, want %v", got, want)
	}
}

func TestLoad(t *testing.T) {
	write := func(t *testing.T, text string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(text), 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("Full", func(t *testing.T) {
		c, err := config.Load(write(t, `
store:
   backend: sqlite
   path: /var/lib/hotpkey/store.db
holdDelayMS: 750
demoSlot: false
passphraseEnv: HOTPKEY_PASSPHRASE
`))
		if err != nil {
			t.Fatalf("Load: unexpected error: %v", err)
		}
		if c.Store.Backend != config.BackendSQLite {
			t.Errorf("backend: got %q, want sqlite", c.Store.Backend)
		}
		if c.Store.Path != "/var/lib/hotpkey/store.db" {
			t.Errorf("path: got %q", c.Store.Path)
		}
		if c.DemoSlot {
			t.Error("demo slot not disabled")
		}
		if got, want := c.HoldDelay(), 750*time.Millisecond; got != want {
			t.Errorf("hold delay: got %v, want %v", got, want)
		}
		if c.PassphraseEnv != "HOTPKEY_PASSPHRASE" {
			t.Errorf("passphrase env: got %q", c.PassphraseEnv)
		}
	})

	t.Run("Partial", func(t *testing.T) {
		c, err := config.Load(write(t, "holdDelayMS: 200\n"))
		if err != nil {
			t.Fatalf("Load: unexpected error: %v", err)
		}
		if c.Store.Backend != config.BackendFile {
			t.Errorf("backend default lost: got %q", c.Store.Backend)
		}
		if got, want := c.HoldDelay(), 200*time.Millisecond; got != want {
			t.Errorf("hold delay: got %v, want %v", got, want)
		}
	})

	t.Run("BadBackend", func(t *testing.T) {
		if _, err := config.Load(write(t, "store: {backend: punchcards}\n")); err == nil {
			t.Error("Load: got nil, want error")
		}
	})

	t.Run("BadDelay", func(t *testing.T) {
		if _, err := config.Load(write(t, "holdDelayMS: -4\n")); err == nil {
			t.Error("Load: got nil, want error")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := config.Load(filepath.Join(t.TempDir(), "nonesuch.yaml")); err != nil {
			t.Errorf("Load: unexpected error: %v", err)
		}
	})
}
