// Package token implements the interactive security-token application: it
// watches the physical buttons, classifies each press as short or held, and
// drives the credential store accordingly. A short press emits the next
// one-time code for that slot; a held press reprograms the slot from console
// input. All feedback goes through the LED bank and the console, and codes
// are typed on the keyboard-emulation sink when one is present.
package token

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tokdevs/hotpkey/hw"
	"github.com/tokdevs/hotpkey/keydb"
	"github.com/tokdevs/hotpkey/sched"
)

// DefaultHoldDelay is how long a button must stay down to count as a hold.
const DefaultHoldDelay = 500 * time.Millisecond

// A Device wires the credential store to the hardware collaborators.
// Keyboard may be nil when no keyboard-emulation sink exists; codes then
// fall back to the console.
type Device struct {
	DB        *keydb.DB
	Buttons   hw.Buttons
	LEDs      hw.LEDs
	Console   hw.Console
	Keyboard  hw.Keyboard
	HoldDelay time.Duration

	mu      sync.Mutex
	pending []int         // press edges not yet handled
	wake    *sched.Signal // armed while the dispatcher waits for a press
}

func (d *Device) holdDelay() time.Duration {
	if d.HoldDelay > 0 {
		return d.HoldDelay
	}
	return DefaultHoldDelay
}

// Run subscribes to button edges and dispatches presses until ctx ends.
// Errors in individual operations are reported on the console and never
// terminate the loop.
func (d *Device) Run(ctx context.Context) error {
	if err := d.Buttons.Subscribe(d.onEdge); err != nil {
		return err
	}
	d.Console.Printf("HOTP token ready. Usage:\n" +
		"* Press a button to get the next code for that slot.\n" +
		"* Hold a button to program a new secret for that slot.\n")
	for {
		btn, err := d.waitPress(ctx)
		if err != nil {
			return err
		}
		if err := d.Press(ctx, btn); err != nil {
			return err
		}
	}
}

// onEdge records press edges for the dispatcher. It runs on the scheduler
// loop, so edges arriving during an operation queue up for later.
func (d *Device) onEdge(ev hw.ButtonEvent) {
	if !ev.Pressed {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, ev.Index)
	if d.wake != nil {
		d.wake.Set()
	}
}

// waitPress blocks until a press edge is available.
func (d *Device) waitPress(ctx context.Context) (int, error) {
	for {
		d.mu.Lock()
		if len(d.pending) > 0 {
			btn := d.pending[0]
			d.pending = d.pending[1:]
			d.mu.Unlock()
			return btn, nil
		}
		sig := sched.NewSignal()
		d.wake = sig
		d.mu.Unlock()

		if err := sched.Wait(ctx, sig); err != nil {
			return 0, err
		}
		d.mu.Lock()
		d.wake = nil
		d.mu.Unlock()
	}
}

// Press handles one press edge on button btn: it waits the hold-detection
// delay, samples the button level, and runs the program flow if the button
// is still down, or the generate flow if it was released. The delay expiring
// is the expected mechanism here, not a failure.
func (d *Device) Press(ctx context.Context, btn int) error {
	if err := d.delay(ctx); err != nil {
		return err
	}
	held, err := d.Buttons.Read(btn)
	if err != nil {
		d.Console.Printf("ERROR reading button %d: %v\n", btn, err)
		return nil
	}
	if held {
		d.program(ctx, btn)
	} else {
		d.generate(ctx, btn)
	}
	return nil
}

// delay suspends the dispatcher for the hold-detection interval while the
// scheduler keeps servicing callbacks. The wait is armed with a signal that
// never fires, so the timeout branch is the normal outcome.
func (d *Device) delay(ctx context.Context) error {
	err := sched.WaitTimeout(ctx, sched.NewSignal(), d.holdDelay())
	if errors.Is(err, sched.ErrTimeout) {
		return nil
	}
	return err
}

// generate emits the next code for slot btn, lighting its LED for the
// duration of the operation.
func (d *Device) generate(ctx context.Context, btn int) {
	if btn >= keydb.NumSlots {
		d.Console.Printf("No HOTP slot for button %d.\n", btn)
		return
	}
	d.LEDs.On(btn)
	defer d.LEDs.Off(btn)

	code, err := d.DB.NextCode(ctx, btn)
	if errors.Is(err, keydb.ErrUnconfigured) {
		d.Console.Printf("HOTP slot %d not yet configured.\n", btn)
		return
	} else if err != nil {
		d.Console.Printf("ERROR generating code for slot %d: %v\n", btn, err)
		return
	}

	// The counter update is already durable; only now may the code escape.
	if d.Keyboard != nil {
		if err := d.Keyboard.TypeString(code); err != nil {
			d.Console.Printf("ERROR typing code on the keyboard: %v\n", err)
			return
		}
		slot, err := d.DB.Slot(btn)
		if err == nil {
			d.Console.Printf("Counter: %d. Typed %q on the keyboard.\n", slot.Counter-1, code)
		}
	} else {
		d.Console.Printf("CODE: %s\n", code)
	}
}

// program reads a replacement secret from the console and stores it in slot
// btn. An empty line aborts.
func (d *Device) program(ctx context.Context, btn int) {
	if btn >= keydb.NumSlots {
		d.Console.Printf("No HOTP slot for button %d.\n", btn)
		return
	}
	d.LEDs.On(btn)
	defer d.LEDs.Off(btn)

	d.Console.Printf("Program a new secret in slot %d\n", btn)
	d.Console.Printf("(hit enter without typing to cancel)\n")

	line, err := d.Console.ReadLine()
	if err != nil && !errors.Is(err, io.EOF) {
		d.Console.Printf("ERROR reading secret: %v\n", err)
		return
	}
	secret := keepAlnum(line)
	if secret == "" {
		d.Console.Printf("Aborted\n")
		return
	}
	if err := d.DB.Program(btn, secret); err != nil {
		d.Console.Printf("ERROR programming slot %d: %v\n", btn, err)
		return
	}
	d.Console.Printf("Programmed %q to slot %d\n", secret, btn)
}

// keepAlnum drops everything but ASCII letters and digits, the same filter
// the device applies to interactive secret entry.
func keepAlnum(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		}
		return -1
	}, s)
}
