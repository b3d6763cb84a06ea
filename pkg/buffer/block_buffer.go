package buffer

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlockBuffer is a thread-safe fixed-capacity circular queue. Add blocks
// while the queue is full and Next blocks while it is empty, which gives
// producers backpressure and keeps memory bounded.
//
// Items come out in the order they went in. With several producers the
// order across producers is the order in which their Add calls acquired
// the buffer.
type BlockBuffer[T any] struct {
	cond *sync.Cond

	mu         sync.Mutex
	buf        []T
	head, tail int64
	closeWrite bool
	closeErr   error // both sides closed
	tailErr    error // delivered once after draining
}

// Block creates a new BlockBuffer using the provided slice as storage. The
// capacity is len(buf), which must be positive.
func Block[T any](buf []T) *BlockBuffer[T] {
	if len(buf) == 0 {
		panic("buffer: zero capacity")
	}
	v := &BlockBuffer[T]{
		buf: buf,
	}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// BlockN creates a new BlockBuffer with the specified capacity.
func BlockN[T any](size int) *BlockBuffer[T] {
	return Block(make([]T, size))
}

// Add appends t, blocking while the buffer is full.
//
// Returns an error wrapping io.ErrClosedPipe if the write side is closed,
// or wrapping the close error if the buffer was closed with one.
func (bb *BlockBuffer[T]) Add(t T) error {
	return bb.AddContext(context.Background(), t)
}

// AddContext is Add that gives up when ctx is done, returning ctx.Err().
func (bb *BlockBuffer[T]) AddContext(ctx context.Context, t T) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	for {
		if err := bb.writeErrLocked(); err != nil {
			return err
		}
		if !bb.fullLocked() {
			bb.pushLocked(t)
			return nil
		}
		if err := bb.waitLocked(ctx); err != nil {
			return err
		}
	}
}

// TryAdd appends t if there is room. It reports false, without error, when
// the buffer is full.
func (bb *BlockBuffer[T]) TryAdd(t T) (bool, error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if err := bb.writeErrLocked(); err != nil {
		return false, err
	}
	if bb.fullLocked() {
		return false, nil
	}
	bb.pushLocked(t)
	return true, nil
}

// Next removes and returns the oldest item, blocking while the buffer is
// empty.
//
// Once the buffer is closed for writing and empty, Next returns the error
// given to CloseWriteWithError (once, if any) and ErrIteratorDone after
// that.
func (bb *BlockBuffer[T]) Next() (T, error) {
	return bb.NextContext(context.Background())
}

// NextContext is Next that gives up when ctx is done, returning ctx.Err().
func (bb *BlockBuffer[T]) NextContext(ctx context.Context) (t T, err error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	for {
		if bb.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed buffer: %w", bb.closeErr)
			return
		}
		if bb.head != bb.tail {
			return bb.popLocked(), nil
		}
		if bb.closeWrite {
			err = bb.doneLocked()
			return
		}
		if err = bb.waitLocked(ctx); err != nil {
			return
		}
	}
}

// TryNext removes and returns the oldest item if there is one. It reports
// false, without error, when the buffer is empty but still open.
func (bb *BlockBuffer[T]) TryNext() (t T, ok bool, err error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil {
		err = fmt.Errorf("buffer: read from closed buffer: %w", bb.closeErr)
		return
	}
	if bb.head != bb.tail {
		return bb.popLocked(), true, nil
	}
	if bb.closeWrite {
		err = bb.doneLocked()
	}
	return
}

// CloseWithError closes both sides of the buffer with the specified error.
// Buffered items are dropped and all pending and future calls fail with an
// error wrapping err. If err is nil, io.ErrClosedPipe is used.
//
// Returns nil if the buffer was already closed.
func (bb *BlockBuffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeErr != nil {
		return nil
	}
	bb.closeErr = err
	bb.closeWrite = true
	bb.head, bb.tail = 0, 0
	clear(bb.buf)
	bb.cond.Broadcast()
	return nil
}

// Close is CloseWithError(io.ErrClosedPipe).
func (bb *BlockBuffer[T]) Close() error {
	return bb.CloseWithError(io.ErrClosedPipe)
}

// CloseWrite closes the write side. Consumers drain what is buffered and
// then see ErrIteratorDone.
//
// Returns nil if the write side was already closed.
func (bb *BlockBuffer[T]) CloseWrite() error {
	return bb.CloseWriteWithError(nil)
}

// CloseWriteWithError closes the write side and arranges for consumers to
// receive err after the buffered items, followed by ErrIteratorDone. err is
// returned to consumers as is, not wrapped.
//
// Returns an error wrapping io.ErrClosedPipe if the write side was already
// closed and err is non-nil; the earlier close stands.
func (bb *BlockBuffer[T]) CloseWriteWithError(err error) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	if bb.closeWrite {
		if err != nil {
			return fmt.Errorf("buffer: close closed buffer: %w", io.ErrClosedPipe)
		}
		return nil
	}
	bb.closeWrite = true
	bb.tailErr = err
	bb.cond.Broadcast()
	return nil
}

// Error returns the error the buffer was closed with, if any.
func (bb *BlockBuffer[T]) Error() error {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.closeErr
}

// Closed reports whether the write side is closed.
func (bb *BlockBuffer[T]) Closed() bool {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.closeWrite
}

// Len returns the number of buffered items.
func (bb *BlockBuffer[T]) Len() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return int(bb.tail - bb.head)
}

// Cap returns the capacity of the buffer.
func (bb *BlockBuffer[T]) Cap() int {
	return len(bb.buf)
}

func (bb *BlockBuffer[T]) writeErrLocked() error {
	if bb.closeErr != nil {
		return fmt.Errorf("buffer: write to closed buffer: %w", bb.closeErr)
	}
	if bb.closeWrite {
		return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	return nil
}

func (bb *BlockBuffer[T]) fullLocked() bool {
	return bb.tail-bb.head == int64(len(bb.buf))
}

func (bb *BlockBuffer[T]) pushLocked(t T) {
	bb.buf[bb.tail%int64(len(bb.buf))] = t
	bb.tail++
	bb.cond.Broadcast()
}

func (bb *BlockBuffer[T]) popLocked() T {
	var zero T
	i := bb.head % int64(len(bb.buf))
	t := bb.buf[i]
	bb.buf[i] = zero
	bb.head++
	bb.cond.Broadcast()
	return t
}

func (bb *BlockBuffer[T]) doneLocked() error {
	if err := bb.tailErr; err != nil {
		bb.tailErr = nil
		return err
	}
	return ErrIteratorDone
}

// waitLocked waits for a state change or for ctx to be done. The caller
// holds bb.mu.
func (bb *BlockBuffer[T]) waitLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() == nil {
		bb.cond.Wait()
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		bb.mu.Lock()
		defer bb.mu.Unlock()
		bb.cond.Broadcast()
	})
	bb.cond.Wait()
	stop()
	return ctx.Err()
}
