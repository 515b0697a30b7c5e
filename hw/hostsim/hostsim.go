// Package hostsim provides host-side implementations of the hw driver
// contracts, used by the command-line token and by tests. The simulated
// drivers keep the asynchronous shape of the real hardware: operations start
// immediately and report completion through a sched.Loop.
package hostsim

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tokdevs/hotpkey/hw"
	"github.com/tokdevs/hotpkey/sched"
)

// HashEngine computes HMAC-SHA256 digests on a worker goroutine and posts
// completions through the loop, mimicking an asynchronous accelerator.
type HashEngine struct {
	loop *sched.Loop

	// Fail, if set, makes every started operation complete with this error.
	// It exists for exercising engine-failure paths in tests.
	Fail error
}

// NewHashEngine constructs a hash engine that delivers completions on loop.
func NewHashEngine(loop *sched.Loop) *HashEngine { return &HashEngine{loop: loop} }

// StartHMACSHA256 implements hw.HashEngine.
func (e *HashEngine) StartHMACSHA256(key, data []byte, done func([]byte, error)) error {
	if len(key) == 0 {
		return errors.New("empty key buffer")
	}
	fail := e.Fail
	go func() {
		if fail != nil {
			e.loop.Post(func() { done(nil, fail) })
			return
		}
		m := hmac.New(sha256.New, key)
		m.Write(data)
		digest := m.Sum(nil)
		e.loop.Post(func() { done(digest, nil) })
	}()
	return nil
}

// Buttons is a simulated button bank. Edges are injected with Press, Release,
// or Tap and delivered to the subscriber through the loop.
type Buttons struct {
	loop *sched.Loop
	n    int

	mu    sync.Mutex
	level []bool
	fn    func(hw.ButtonEvent)
}

// NewButtons constructs a bank of n simulated buttons on loop.
func NewButtons(loop *sched.Loop, n int) *Buttons {
	return &Buttons{loop: loop, n: n, level: make([]bool, n)}
}

// Subscribe implements hw.Buttons.
func (b *Buttons) Subscribe(fn func(hw.ButtonEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fn != nil {
		return errors.New("buttons already subscribed")
	}
	b.fn = fn
	return nil
}

// Count implements hw.Buttons.
func (b *Buttons) Count() int { return b.n }

// Read implements hw.Buttons.
func (b *Buttons) Read(i int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= b.n {
		return false, fmt.Errorf("no button %d", i)
	}
	return b.level[i], nil
}

// Press drives button i to the pressed level and reports the edge.
func (b *Buttons) Press(i int) { b.edge(i, true) }

// Release drives button i to the released level and reports the edge.
func (b *Buttons) Release(i int) { b.edge(i, false) }

// Tap presses button i and releases it after hold. A hold shorter than the
// dispatcher's hold-detection delay reads as a short press; a longer one
// reads as a hold.
func (b *Buttons) Tap(i int, hold time.Duration) {
	b.Press(i)
	time.AfterFunc(hold, func() { b.Release(i) })
}

func (b *Buttons) edge(i int, pressed bool) {
	b.mu.Lock()
	if i < 0 || i >= b.n {
		b.mu.Unlock()
		return
	}
	b.level[i] = pressed
	fn := b.fn
	b.mu.Unlock()
	if fn != nil {
		b.loop.Post(func() { fn(hw.ButtonEvent{Index: i, Pressed: pressed}) })
	}
}

// LEDs records indicator state, optionally echoing transitions to a writer.
type LEDs struct {
	mu  sync.Mutex
	on  map[int]bool
	out io.Writer // may be nil
}

// NewLEDs constructs an LED bank. If out is non-nil, transitions are echoed
// to it as diagnostic lines.
func NewLEDs(out io.Writer) *LEDs { return &LEDs{on: make(map[int]bool), out: out} }

// On implements hw.LEDs.
func (l *LEDs) On(i int) error { return l.set(i, true) }

// Off implements hw.LEDs.
func (l *LEDs) Off(i int) error { return l.set(i, false) }

// Lit reports whether LED i is currently on.
func (l *LEDs) Lit(i int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on[i]
}

func (l *LEDs) set(i int, on bool) error {
	l.mu.Lock()
	l.on[i] = on
	l.mu.Unlock()
	if l.out != nil {
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintf(l.out, "[led %d %s]\n", i, state)
	}
	return nil
}

// Keyboard "types" strings by writing them to out, standing in for the USB
// HID keyboard of the device.
type Keyboard struct {
	mu  sync.Mutex
	out io.Writer
}

// NewKeyboard constructs a keyboard sink writing to out.
func NewKeyboard(out io.Writer) *Keyboard { return &Keyboard{out: out} }

// TypeString implements hw.Keyboard.
func (k *Keyboard) TypeString(s string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, err := io.WriteString(k.out, s)
	return err
}

// Console is a line-oriented console over an arbitrary reader and writer.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsole constructs a console reading from in and writing to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// ReadLine implements hw.Console. The trailing newline (and any carriage
// return) is stripped. On EOF with no input, it reports io.EOF.
func (c *Console) ReadLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Printf implements hw.Console.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
