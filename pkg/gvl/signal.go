package gvl

import (
	"context"
	"errors"
)

// ErrInterrupted is returned by operations that were abandoned because the
// host interrupted the calling thread.
var ErrInterrupted = errors.New("gvl: interrupted")

// errSectionDone is the cancel cause used when a lock-released section
// returns normally; it never surfaces through Signal.Err.
var errSectionDone = errors.New("gvl: section done")

// Signal is a one-shot cancellation flag shared between a lock-released
// closure and the host's unblock callback. It moves from pending to
// cancelled at most once and never back.
//
// Done is a broadcast: every waiter selecting on it observes cancellation
// without polling. Context exposes the same signal to code that speaks
// context.Context.
type Signal struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newSignal() *Signal {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Signal{ctx: ctx, cancel: cancel}
}

// Done returns a channel that is closed once the signal is cancelled.
func (s *Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Cancelled reports whether the host interrupted the section.
func (s *Signal) Cancelled() bool {
	return errors.Is(context.Cause(s.ctx), ErrInterrupted)
}

// Err returns ErrInterrupted once the signal is cancelled, nil before.
func (s *Signal) Err() error {
	if s.Cancelled() {
		return ErrInterrupted
	}
	return nil
}

// Context returns a context that is cancelled with cause ErrInterrupted
// when the host interrupts the section. It is also cancelled when the
// section ends, so work that must outlive the section needs its own
// context.
func (s *Signal) Context() context.Context {
	return s.ctx
}

func (s *Signal) interrupt() {
	s.cancel(ErrInterrupted)
}

func (s *Signal) release() {
	s.cancel(errSectionDone)
}
