// Program hotpkey is a software HOTP security token.
//
// It keeps up to four credential slots in an encrypted backing store and
// emits RFC 4226-style one-time codes keyed with HMAC-SHA256. The run
// subcommand emulates the device's buttons interactively; code and program
// are one-shot equivalents of the short-press and hold actions.
package main

import (
	"os"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	"github.com/tokdevs/hotpkey/config"
)

func main() {
	var flags struct {
		Config  string `flag:"config,default=$HOTPKEY_CONFIG,Configuration file path"`
		Store   string `flag:"store,Override the backing store path"`
		Backend string `flag:"backend,Override the store backend (file, sqlite, memory)"`
		PassEnv string `flag:"passphrase-env,Environment variable holding the device passphrase"`
	}
	root := &command.C{
		Name: command.ProgramName(),
		Help: `A software HOTP security token.

Credentials live in a fixed set of slots, each holding a shared secret
encrypted at rest and a strictly increasing counter. A short button
press emits the next one-time code for that slot; holding a button
programs a new secret into it. Codes are keyed with HMAC-SHA256, so the
verifier must be configured for that algorithm.

Use --config to specify the configuration path, or set the
HOTPKEY_CONFIG environment variable.`,

		SetFlags: command.Flags(flax.MustBind, &flags),

		Init: func(env *command.Env) error {
			cfg, err := config.Load(flags.Config)
			if err != nil {
				return err
			}
			if flags.Store != "" {
				cfg.Store.Path = flags.Store
			}
			if flags.Backend != "" {
				cfg.Store.Backend = flags.Backend
			}
			if flags.PassEnv != "" {
				cfg.PassphraseEnv = flags.PassEnv
			}
			env.Config = &settings{cfg: cfg}
			return nil
		},

		Commands: []*command.C{
			cmdRun,
			cmdCode,
			cmdProgram,
			cmdSlots,
			command.HelpCommand([]command.HelpTopic{{
				Name: "slots",
				Help: `Credential slots.

The token has four slots, addressed 0 through 3. Code lengths are fixed
per slot: slots 0 and 1 emit 6 digits, slot 2 emits 7, and slot 3 emits
8. A freshly initialized store programs slot 0 with the demonstration
secret "test" so the device can be tried against a verifier; disable
this with demoSlot: false in the configuration.`,
			}}),
			command.VersionCommand(),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// settings carries the resolved configuration to the subcommands.
type settings struct {
	cfg config.Config
}
