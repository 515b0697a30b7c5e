package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/getpass"
	"golang.org/x/term"

	"github.com/tokdevs/hotpkey/hw/hostsim"
	"github.com/tokdevs/hotpkey/keydb"
	"github.com/tokdevs/hotpkey/kvstore"
	"github.com/tokdevs/hotpkey/token"
)

var cmdCode = &command.C{
	Name:  "code",
	Usage: "<slot>",
	Help: `Emit the next one-time code for the specified slot.

This is the one-shot equivalent of a short button press: the slot's
counter is advanced and persisted, then the code is printed.`,
	Run: command.Adapt(runCode),
}

func runCode(env *command.Env, slotArg string) error {
	slot, err := parseSlot(slotArg)
	if err != nil {
		return err
	}
	s, err := openSession(env)
	if err != nil {
		return err
	}
	defer s.Close()

	code, err := s.db.NextCode(env.Context(), slot)
	if err != nil {
		return err
	}
	fmt.Fprintln(env, code)
	return nil
}

var cmdProgram = &command.C{
	Name:  "program",
	Usage: "<slot>",
	Help: `Program a new secret into the specified slot.

The secret is read at the terminal with echo disabled and must be
base32 encoded. Programming resets the slot's counter to zero.`,
	Run: command.Adapt(runProgram),
}

func runProgram(env *command.Env, slotArg string) error {
	slot, err := parseSlot(slotArg)
	if err != nil {
		return err
	}
	s, err := openSession(env)
	if err != nil {
		return err
	}
	defer s.Close()

	secret, err := getpass.Prompt(fmt.Sprintf("New secret for slot %d: ", slot))
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	if strings.TrimSpace(secret) == "" {
		return env.Usagef("no secret provided")
	}
	if err := s.db.Program(slot, secret); err != nil {
		return err
	}
	fmt.Fprintf(env, "Programmed slot %d (%d digits)\n", slot, keydb.Digits(slot))
	return nil
}

var cmdSlots = &command.C{
	Name: "slots",
	Help: "List the credential slots and their state.",
	Run:  command.Adapt(runSlots),
}

func runSlots(env *command.Env) error {
	s, err := openSession(env)
	if err != nil {
		return err
	}
	defer s.Close()

	tw := tabwriter.NewWriter(os.Stdout, 4, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tDIGITS\tSTATE\tCOUNTER")
	for i := range keydb.NumSlots {
		slot, err := s.db.Slot(i)
		if err != nil {
			return err
		}
		state := "empty"
		if slot.Configured {
			state = "configured"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\n", i, slot.Digits, state, slot.Counter)
	}
	return tw.Flush()
}

var runFlags struct {
	Watch      bool `flag:"watch,Reload the store when it is modified externally"`
	NoKeyboard bool `flag:"no-keyboard,Disable the keyboard sink and print codes on the console"`
}

var cmdRun = &command.C{
	Name: "run",
	Help: `Run the token interactively.

Terminal input stands in for the device buttons:

  1 .. 4      short-press the button for slots 0..3 (emit a code)
  h1 .. h4    hold the button (program a new secret)
  q           power the token off

During a hold, the next input line is the new secret for that slot.
An empty line aborts the programming.`,
	SetFlags: command.Flags(flax.MustBind, &runFlags),
	Run:      command.Adapt(runRun),
}

func runRun(env *command.Env) error {
	s, err := openSession(env)
	if err != nil {
		return err
	}
	defer s.Close()

	console := hostsim.NewConsole(os.Stdin, os.Stdout)
	buttons := hostsim.NewButtons(s.loop, keydb.NumSlots)
	dev := &token.Device{
		DB:        s.db,
		Buttons:   buttons,
		LEDs:      hostsim.NewLEDs(os.Stdout),
		Console:   console,
		HoldDelay: s.cfg.HoldDelay(),
	}
	if !runFlags.NoKeyboard {
		dev.Keyboard = hostsim.NewKeyboard(lineWriter{os.Stdout})
	}

	// Lazy reload: the watcher only marks the store dirty, and the loop
	// reloads between operations so a reload can never interleave with one.
	var dirty atomic.Bool
	if runFlags.Watch && s.file != nil {
		w, err := kvstore.NewWatcher(s.cfg.Store.Path, func() { dirty.Store(true) })
		if err != nil {
			return err
		}
		go w.Run(env.Context())
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		console.Printf("Note: input is not a terminal; reading scripted button events.\n")
	}
	console.Printf("HOTP token running. Usage:\n"+
		"* Enter 1-%[1]d to press a button (emit the next code for that slot).\n"+
		"* Enter h1-h%[1]d to hold a button (program a new secret).\n"+
		"* Enter q to power off.\n", keydb.NumSlots)

	ctx := env.Context()
	for {
		console.Printf("> ")
		line, err := console.ReadLine()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if dirty.Swap(false) {
			if err := s.file.Reload(); err != nil {
				console.Printf("ERROR reloading store: %v\n", err)
			} else {
				s.db.Reload()
				console.Printf("Store reloaded.\n")
			}
		}

		cmd := strings.ToLower(strings.TrimSpace(line))
		switch {
		case cmd == "":
			continue
		case cmd == "q" || cmd == "quit":
			return nil
		case len(cmd) == 1 && cmd[0] >= '1' && cmd[0] <= '0'+keydb.NumSlots:
			btn := int(cmd[0] - '1')
			buttons.Press(btn)
			buttons.Release(btn)
			if err := dev.Press(ctx, btn); err != nil {
				return err
			}
		case len(cmd) == 2 && cmd[0] == 'h' && cmd[1] >= '1' && cmd[1] <= '0'+keydb.NumSlots:
			btn := int(cmd[1] - '1')
			buttons.Press(btn)
			err := dev.Press(ctx, btn)
			buttons.Release(btn)
			if err != nil {
				return err
			}
		default:
			console.Printf("Unrecognized input %q (1-%d, h1-h%d, or q)\n",
				cmd, keydb.NumSlots, keydb.NumSlots)
		}
	}
}

// lineWriter appends a newline to each write, so codes "typed" by the
// keyboard sink land on their own console line.
type lineWriter struct{ w io.Writer }

func (lw lineWriter) Write(p []byte) (int, error) {
	n, err := lw.w.Write(p)
	if err != nil {
		return n, err
	}
	io.WriteString(lw.w, "\n")
	return n, nil
}

func parseSlot(arg string) (int, error) {
	slot, err := strconv.Atoi(arg)
	if err != nil || slot < 0 || slot >= keydb.NumSlots {
		return 0, fmt.Errorf("invalid slot %q (want 0..%d)", arg, keydb.NumSlots-1)
	}
	return slot, nil
}
