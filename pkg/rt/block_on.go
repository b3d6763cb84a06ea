package rt

import (
	"context"
	"errors"
	"io"
	"runtime/debug"

	"github.com/haivivi/wreq/go/pkg/gvl"
)

// Future is a unit of asynchronous work. It must return promptly once ctx
// is cancelled.
type Future[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	val   T
	err   error
	panic any
	stack []byte
}

// BlockOn runs fut on the default runtime with the interpreter lock
// released and returns its result. If the host interrupts the thread first,
// fut's context is cancelled, its eventual result is discarded and BlockOn
// returns gvl.ErrInterrupted. A discarded result that implements io.Closer
// is closed.
//
// A panic inside fut is re-raised on the calling goroutine after the lock
// is held again.
func BlockOn[T any](h gvl.Host, fut Future[T]) (T, error) {
	return blockOn(Default(), h, fut)
}

// MaybeBlockOn is BlockOn for futures that report absence instead of an
// error. It returns false when fut does, or when the host interrupts.
func MaybeBlockOn[T any](h gvl.Host, fut func(ctx context.Context) (T, bool)) (T, bool) {
	v, err := BlockOn(h, func(ctx context.Context) (T, error) {
		v, ok := fut(ctx)
		if !ok {
			return v, errAbsent
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

var errAbsent = errors.New("rt: absent")

func blockOn[T any](r *Runtime, h gvl.Host, fut Future[T]) (T, error) {
	out := gvl.NoGVLCancellable(h, func(sig *gvl.Signal) outcome[T] {
		if sig.Cancelled() {
			return outcome[T]{err: gvl.ErrInterrupted}
		}
		done := make(chan outcome[T], 1)
		r.spawn(sig.Context(), func(ctx context.Context) {
			var o outcome[T]
			defer func() {
				if p := recover(); p != nil {
					o.panic, o.stack = p, debug.Stack()
				}
				done <- o
			}()
			o.val, o.err = fut(ctx)
		})

		select {
		case <-sig.Done():
			go func() { discard(r, <-done) }()
			return outcome[T]{err: gvl.ErrInterrupted}
		case o := <-done:
			// Both may be ready; the interrupt wins.
			if sig.Cancelled() {
				discard(r, o)
				return outcome[T]{err: gvl.ErrInterrupted}
			}
			return o
		}
	})
	if out.panic != nil {
		panic(out.panic)
	}
	return out.val, out.err
}

// discard releases the result of an abandoned future.
func discard[T any](r *Runtime, o outcome[T]) {
	if o.panic != nil {
		r.log().Error("rt: abandoned task panicked", "panic", o.panic, "stack", string(o.stack))
		return
	}
	if o.err != nil {
		return
	}
	if c, ok := any(o.val).(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.log().Debug("rt: close abandoned result", "error", err)
		}
	}
}
