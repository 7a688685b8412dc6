// Package invocation implements the one-shot unit of deferred work shared by
// the worker pool and the delayed-call service: a callable plus a
// completion latch, and a comparable key usable for cancel-by-identity
// lookups.
package invocation

import (
	"fmt"
	"sync"
)

// Callable is the work an Invocation performs when run. Callers that need
// an argument close over it directly; the Key carries the argument
// separately for cancellation matching.
type Callable func()

// Key identifies an Invocation for cancellation purposes. Target and
// Selector are opaque tags supplied by the caller (typically a pointer
// identity and a short string naming the operation); Arg is compared by
// value, so it must be a comparable type (or nil). HasArg distinguishes a
// Key that was scheduled with no argument at all from one whose argument
// happens to be nil; build an argument-bearing Key with KeyWithArg rather
// than setting Arg directly.
type Key struct {
	Target   any
	Selector string
	Arg      any
	HasArg   bool
}

// KeyWithArg builds a Key carrying an argument, for use both as a schedule
// key and as a cancellation filter matching only entries with this exact
// argument.
func KeyWithArg(target any, selector string, arg any) Key {
	return Key{Target: target, Selector: selector, Arg: arg, HasArg: true}
}

// Matches reports whether k matches a cancellation filter. Three filter
// shapes are recognized:
//
//   - filter.Selector == "": target-only cancel, matches any selector/arg.
//   - filter.Selector != "" && !filter.HasArg: selector cancel with no
//     argument, matches only entries scheduled without an argument.
//   - filter.Selector != "" && filter.HasArg: selector+argument cancel,
//     matches only entries whose argument equals filter.Arg exactly.
func (k Key) Matches(filter Key) bool {
	if k.Target != filter.Target {
		return false
	}
	if filter.Selector == "" {
		return true
	}
	if k.Selector != filter.Selector {
		return false
	}
	if !filter.HasArg {
		return !k.HasArg
	}
	return k.HasArg && k.Arg == filter.Arg
}

// Invocation is a single deferred unit of work with an exactly-once
// completion latch. The zero value is not usable; construct with New.
type Invocation struct {
	Key Key

	run Callable

	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

// New wraps fn as an Invocation identified by key.
func New(key Key, fn Callable) *Invocation {
	return &Invocation{
		Key:  key,
		run:  fn,
		done: make(chan struct{}),
	}
}

// Run executes the wrapped callable and marks the invocation complete,
// capturing a panic as an error rather than propagating it. Run is safe to
// call only once; subsequent calls are no-ops because the latch is already
// closed by the first.
func (inv *Invocation) Run() {
	inv.once.Do(func() {
		defer close(inv.done)
		defer func() {
			if r := recover(); r != nil {
				inv.mu.Lock()
				inv.err = panicError{recovered: r}
				inv.mu.Unlock()
			}
		}()
		inv.run()
	})
}

// MarkCompleted closes the completion latch without running the callable,
// used when an invocation is cancelled before it ever reaches a worker.
func (inv *Invocation) MarkCompleted() {
	inv.once.Do(func() {
		close(inv.done)
	})
}

// WaitForCompletion blocks until Run or MarkCompleted has been called.
func (inv *Invocation) WaitForCompletion() {
	<-inv.done
}

// Done returns a channel closed on completion, for use in select statements
// alongside a context's Done channel.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

// Err returns the panic recovered during Run, if any.
func (inv *Invocation) Err() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.err
}

type panicError struct {
	recovered any
}

func (p panicError) Error() string {
	return fmt.Sprintf("invocation panicked: %v", p.recovered)
}

func (p panicError) Unwrap() error {
	if err, ok := p.recovered.(error); ok {
		return err
	}
	return nil
}
