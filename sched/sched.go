// Package sched provides the cooperative scheduling primitives that turn the
// callback-completed hardware interfaces into logically blocking calls.
//
// Hardware drivers complete asynchronously: an operation is started, and some
// time later the driver reports completion. Completions are delivered to a
// Loop, which dispatches them one at a time in arrival order. A caller that
// needs to block arms a single-use Signal, hands its Set method to the driver
// as the completion callback, and waits on the signal. While the caller is
// suspended the Loop keeps servicing other pending completions (timers,
// button edges), so a wait never starves unrelated callbacks.
//
// Each wait gets its own Signal. A signal is never reused across waits, so a
// late-firing callback from an abandoned operation cannot leak into a
// subsequent wait on the same flag.
package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is reported by WaitTimeout when the deadline elapses before the
// awaited signal fires. Callers that use a timeout as a control-flow branch
// (hold detection) test for it with errors.Is.
var ErrTimeout = errors.New("wait timed out")

// A Loop serializes hardware completion callbacks. Drivers call Post from
// their own goroutines; Run dispatches the posted callbacks one at a time.
type Loop struct {
	cbs chan func()
}

// NewLoop constructs an idle callback loop. The caller must invoke Run to
// begin dispatch.
func NewLoop() *Loop { return &Loop{cbs: make(chan func(), 64)} }

// Post enqueues fn for dispatch on the loop. It is safe for concurrent use.
// Post never blocks the loop itself, but may block the caller briefly if the
// queue is full.
func (l *Loop) Post(fn func()) { l.cbs <- fn }

// Run dispatches posted callbacks until ctx ends. Callbacks run one at a
// time, in the order they were posted.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.cbs:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// A Signal is a single-use completion token. The zero value is not ready for
// use; construct signals with NewSignal.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal constructs an unfired signal.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Set marks the signal fired. It is idempotent and safe for concurrent use,
// so a driver may report completion more than once without harm.
func (s *Signal) Set() { s.once.Do(func() { close(s.ch) }) }

// Ready reports whether the signal has fired.
func (s *Signal) Ready() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the signal fires.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Wait blocks until sig fires or ctx ends. On a nil error return the signal
// is guaranteed to have fired already; there are no spurious wakeups.
func Wait(ctx context.Context, sig *Signal) error {
	select {
	case <-sig.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout blocks until sig fires, d elapses, or ctx ends. On timeout it
// reports ErrTimeout, and the timer it armed is stopped and drained before
// return so the expiry cannot fire into a later wait.
func WaitTimeout(ctx context.Context, sig *Signal, d time.Duration) error {
	t := time.NewTimer(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}()
	select {
	case <-sig.Done():
		return nil
	case <-t.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
