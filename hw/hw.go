// Package hw defines the contracts for the hardware collaborators of the
// token: the keyed-hash accelerator, buttons, LEDs, the console, and the
// optional keyboard-emulation output sink. The interfaces mirror the driver
// boundary of the device: operations that the hardware completes
// asynchronously are expressed as start calls with completion callbacks, and
// the completion is expected to be delivered through a sched.Loop.
package hw

// A ButtonEvent is a press or release edge reported for one button.
type ButtonEvent struct {
	Index   int  // which button
	Pressed bool // true on press, false on release
}

// A HashEngine is an asynchronous keyed-hash accelerator. StartHMACSHA256
// begins computation of an HMAC-SHA256 digest and returns immediately; done
// is invoked exactly once with the 32-byte digest or an error. The engine
// posts done through its scheduler loop, so completions are serialized with
// other hardware callbacks.
type HashEngine interface {
	StartHMACSHA256(key, data []byte, done func(digest []byte, err error)) error
}

// Buttons reports physical button edges and current levels.
type Buttons interface {
	// Subscribe registers fn to receive press and release edges.
	// At most one subscriber is supported.
	Subscribe(fn func(ButtonEvent)) error

	// Count reports the number of buttons present.
	Count() int

	// Read samples the current level of button i.
	Read(i int) (pressed bool, err error)
}

// LEDs is the visual indicator bank. No logic depends on LED state; it is
// user feedback only.
type LEDs interface {
	On(i int) error
	Off(i int) error
}

// A Keyboard types text as if from a physical keyboard. The sink is
// optional: callers hold a nil Keyboard when the hardware is absent and fall
// back to the console.
type Keyboard interface {
	TypeString(s string) error
}

// A Console is the line-oriented text interface used for secret entry and
// diagnostics.
type Console interface {
	// ReadLine reads one line of input, without the trailing newline.
	ReadLine() (string, error)

	// Printf writes a formatted diagnostic message.
	Printf(format string, args ...any)
}
