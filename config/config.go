// Package config handles hotpkey device configuration. Configurations are
// stored as YAML on disk; a missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Store backend names accepted in a configuration.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// A Config holds the device settings.
type Config struct {
	// Store selects the durable backing store for credentials.
	Store struct {
		Backend string `yaml:"backend"` // file, sqlite, or memory
		Path    string `yaml:"path"`    // ignored for the memory backend
	} `yaml:"store"`

	// HoldDelayMS is the press duration, in milliseconds, that separates a
	// short press from a hold.
	HoldDelayMS int `yaml:"holdDelayMS"`

	// DemoSlot controls whether slot 0 is programmed with the built-in demo
	// secret on a completely fresh store.
	DemoSlot bool `yaml:"demoSlot"`

	// PassphraseEnv names an environment variable holding the device
	// passphrase. When unset or empty, the passphrase is prompted for.
	PassphraseEnv string `yaml:"passphraseEnv"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var c Config
	c.Store.Backend = BackendFile
	c.Store.Path = os.ExpandEnv("$HOME/.config/hotpkey/store.json")
	c.HoldDelayMS = 500
	c.DemoSlot = true
	return c
}

// HoldDelay returns the hold-detection delay as a duration.
func (c Config) HoldDelay() time.Duration {
	return time.Duration(c.HoldDelayMS) * time.Millisecond
}

// Load reads the configuration at path, applying defaults for any fields the
// file does not set. If path is empty or does not exist, the defaults are
// returned.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	} else if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		return c, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.HoldDelayMS <= 0 {
		return c, fmt.Errorf("holdDelayMS must be positive, got %d", c.HoldDelayMS)
	}
	return c, nil
}
