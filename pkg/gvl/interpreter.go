package gvl

import (
	"fmt"
	"log/slog"
	"sync"
)

// Interpreter is an in-process host with a single global lock. Interpreter
// threads run with the lock held and give it up only through
// Thread.RunWithoutLock.
type Interpreter struct {
	mu sync.Mutex // the interpreter lock

	deferMu  sync.Mutex
	deferred []func()

	wg sync.WaitGroup
}

// New creates an Interpreter with its lock free.
func New() *Interpreter {
	return &Interpreter{}
}

// Go starts a new interpreter thread running fn. fn runs with the
// interpreter lock held.
func (in *Interpreter) Go(fn func(*Thread) error) *Thread {
	t := newThread(in)
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer close(t.done)
		t.err = in.run(t, fn)
	}()
	return t
}

// Do runs fn as an interpreter thread on the calling goroutine and returns
// its error. A panic in fn is returned as an error.
func (in *Interpreter) Do(fn func(*Thread) error) error {
	t := newThread(in)
	defer close(t.done)
	t.err = in.run(t, fn)
	return t.err
}

// Wait blocks until every thread started with Go has finished.
func (in *Interpreter) Wait() {
	in.wg.Wait()
}

// Defer queues fn to run on the next interpreter thread that acquires the
// lock. If the lock is free right now, fn runs immediately on the caller.
func (in *Interpreter) Defer(fn func()) {
	in.deferMu.Lock()
	in.deferred = append(in.deferred, fn)
	in.deferMu.Unlock()

	if in.mu.TryLock() {
		in.runDeferred()
		in.mu.Unlock()
	}
}

func (in *Interpreter) run(t *Thread, fn func(*Thread) error) (err error) {
	in.lock()
	defer in.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gvl: thread panicked: %v", r)
		}
	}()
	return fn(t)
}

func (in *Interpreter) lock() {
	in.mu.Lock()
	in.runDeferred()
}

// runDeferred must be called with the interpreter lock held.
func (in *Interpreter) runDeferred() {
	for {
		in.deferMu.Lock()
		fns := in.deferred
		in.deferred = nil
		in.deferMu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			runDeferred(fn)
		}
	}
}

func runDeferred(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("gvl: deferred function panicked", "panic", r)
		}
	}()
	fn()
}

// Thread is one interpreter thread. It implements Host and Finalizer.
type Thread struct {
	in   *Interpreter
	done chan struct{}
	err  error

	mu          sync.Mutex
	released    bool
	unblock     func()
	interrupted bool
}

func newThread(in *Interpreter) *Thread {
	return &Thread{in: in, done: make(chan struct{})}
}

// RunWithoutLock implements Host. A pending interrupt is delivered to
// unblock before entry runs. Nested use on the same thread panics.
func (t *Thread) RunWithoutLock(entry func(), unblock func()) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		panic("gvl: RunWithoutLock called while the interpreter lock is already released on this thread")
	}
	t.released = true
	t.unblock = unblock
	pending := t.interrupted && unblock != nil
	if pending {
		t.interrupted = false
	}
	t.mu.Unlock()

	if pending {
		unblock()
	}

	t.in.mu.Unlock()
	defer func() {
		// The section is over; an interrupt that arrives while the thread
		// waits for the lock must stay pending.
		t.mu.Lock()
		t.unblock = nil
		t.mu.Unlock()

		t.in.lock()
		t.mu.Lock()
		t.released = false
		t.mu.Unlock()
	}()
	entry()
}

// Interrupt asks the thread to stop what it is waiting on. If the thread is
// inside a cancellable lock-released section the section's unblock callback
// runs now; otherwise the interrupt stays pending until the next one.
// Interrupt is safe to call from any goroutine.
func (t *Thread) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released && t.unblock != nil {
		t.unblock()
		return
	}
	t.interrupted = true
}

// CheckInterrupt consumes a pending interrupt and reports it as
// ErrInterrupted. Interpreter code calls it between steps of a loop.
func (t *Thread) CheckInterrupt() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interrupted {
		t.interrupted = false
		return ErrInterrupted
	}
	return nil
}

// Defer implements Finalizer.
func (t *Thread) Defer(fn func()) {
	t.in.Defer(fn)
}

// Done returns a channel closed when the thread has finished.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the thread has finished and returns its error.
func (t *Thread) Wait() error {
	<-t.done
	return t.err
}
