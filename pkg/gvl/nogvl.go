package gvl

import "context"

// Host is the capability a host interpreter offers to native code.
//
// RunWithoutLock releases the interpreter lock, runs entry on the calling
// goroutine and reacquires the lock before returning. If unblock is non-nil
// the host may invoke it from another goroutine, at most until entry
// returns, to ask entry to stop early. entry must not touch interpreter
// state.
type Host interface {
	RunWithoutLock(entry func(), unblock func())
}

// Finalizer is implemented by hosts that can defer a function until an
// interpreter thread holds the lock. Resource cleanup triggered by the
// garbage collector uses it so that releases never race interpreter code.
type Finalizer interface {
	Defer(fn func())
}

// NoGVL runs f with the interpreter lock released and returns its result
// once the lock is held again. f cannot be interrupted.
//
// Calling NoGVL (or NoGVLCancellable) from inside f on the same thread is a
// programming error.
func NoGVL[R any](h Host, f func() R) R {
	var r R
	h.RunWithoutLock(func() { r = f() }, nil)
	return r
}

// NoGVLCancellable runs f with the interpreter lock released. f receives a
// fresh Signal that is cancelled if the host interrupts the thread while f
// runs, or was already asked to before f started. f decides how to react;
// NoGVLCancellable itself returns whatever f returns.
func NoGVLCancellable[R any](h Host, f func(*Signal) R) R {
	sig := newSignal()
	defer sig.release()
	var r R
	h.RunWithoutLock(func() { r = f(sig) }, sig.interrupt)
	return r
}

// Free is a Host for goroutines that never hold an interpreter lock. It
// runs entry directly and never calls unblock.
var Free Host = freeHost{}

type freeHost struct{}

func (freeHost) RunWithoutLock(entry func(), _ func()) { entry() }

// Context returns a Host for goroutines without an interpreter lock whose
// interrupt is the cancellation of ctx.
func Context(ctx context.Context) Host {
	return ctxHost{ctx: ctx}
}

type ctxHost struct {
	ctx context.Context
}

func (h ctxHost) RunWithoutLock(entry func(), unblock func()) {
	if unblock != nil {
		stop := context.AfterFunc(h.ctx, unblock)
		defer stop()
	}
	entry()
}
