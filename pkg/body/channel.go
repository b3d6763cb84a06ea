package body

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/haivivi/wreq/go/pkg/buffer"
	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/rt"
)

type channel struct {
	buf *buffer.BlockBuffer[[]byte]

	mu      sync.Mutex
	senders int
	closed  bool
}

// NewChannel creates a bounded chunk channel. capacity <= 0 means
// DefaultCapacity.
func NewChannel(capacity int) (*Sender, *Receiver) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ch := &channel{
		buf:     buffer.BlockN[[]byte](capacity),
		senders: 1,
	}
	return &Sender{ch: ch}, &Receiver{buf: ch.buf}
}

// Sender is the producer end of a channel. Clones produce into the same
// channel; the stream ends when every clone is closed.
type Sender struct {
	ch     *channel
	closed atomic.Bool
}

// Push copies chunk into the channel. When the channel is full Push
// releases the interpreter lock and waits for room.
//
// Returns ErrChannelClosed if the channel is closed, or gvl.ErrInterrupted
// if the host interrupts the wait; the channel stays usable after an
// interrupt.
func (s *Sender) Push(h gvl.Host, chunk []byte) error {
	if s.closed.Load() {
		return ErrChannelClosed
	}
	data := bytes.Clone(chunk)
	if data == nil {
		data = []byte{}
	}
	ok, err := s.ch.buf.TryAdd(data)
	if err != nil {
		return ErrChannelClosed
	}
	if ok {
		return nil
	}
	_, err = rt.BlockOn(h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.ch.buf.AddContext(ctx, data)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gvl.ErrInterrupted):
		return err
	default:
		return ErrChannelClosed
	}
}

// PushContext is Push for goroutines that hold no interpreter lock. It
// gives up with gvl.ErrInterrupted when ctx is done.
func (s *Sender) PushContext(ctx context.Context, chunk []byte) error {
	return s.Push(gvl.Context(ctx), chunk)
}

// Clone returns a new producer for the same channel. Cloning a closed
// sender, or a sender of a closed channel, returns a closed sender.
func (s *Sender) Clone() *Sender {
	c := &Sender{ch: s.ch}
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	if s.closed.Load() || s.ch.closed {
		c.closed.Store(true)
		return c
	}
	s.ch.senders++
	return c
}

// Close closes this producer. The channel's write side closes once every
// clone is closed, after which the consumer drains the buffered chunks and
// sees end of stream. Close is idempotent.
func (s *Sender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	if s.ch.closed {
		return nil
	}
	s.ch.senders--
	if s.ch.senders == 0 {
		s.ch.closed = true
		s.ch.buf.CloseWrite()
	}
	return nil
}

// Abort ends the channel for every clone. The consumer receives the chunks
// pushed so far, then an *AbortError carrying msg, then end of stream.
//
// Returns ErrChannelClosed, changing nothing, if the channel is already
// closed.
func (s *Sender) Abort(msg string) error {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	if s.closed.Load() || s.ch.closed {
		return ErrChannelClosed
	}
	s.closed.Store(true)
	s.ch.closed = true
	s.ch.buf.CloseWriteWithError(&AbortError{Message: msg})
	return nil
}
