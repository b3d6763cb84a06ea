package body

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/haivivi/wreq/go/pkg/buffer"
	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/rt"
)

type mode int32

const (
	modeNone mode = iota
	modeStream
	modeIter
)

// Receiver is the consumer end of a channel. It is consumed exactly one
// way: converted once with Stream, or iterated with Next and Each.
type Receiver struct {
	buf  *buffer.BlockBuffer[[]byte]
	mode atomic.Int32
	up   *upstream // set for streamers
}

// upstream is what a streamer receiver owns besides itself. It must not
// point back at the Receiver so a GC cleanup can release it.
type upstream struct {
	buf  *buffer.BlockBuffer[[]byte]
	src  io.Closer
	once sync.Once
	err  error
}

func (u *upstream) close() error {
	u.once.Do(func() {
		u.buf.CloseWithError(ErrChannelClosed)
		u.err = u.src.Close()
	})
	return u.err
}

func (r *Receiver) claim(m mode) error {
	if r.mode.CompareAndSwap(int32(modeNone), int32(m)) {
		return nil
	}
	if m == modeIter && mode(r.mode.Load()) == modeIter {
		return nil
	}
	return ErrStreamAlreadyConsumed
}

// Stream converts the receiver into an io.ReadCloser for the HTTP engine.
// Reads block while the channel is empty and stop when ctx is done. An
// aborted upload surfaces as an *AbortError from Read.
func (r *Receiver) Stream(ctx context.Context) (io.ReadCloser, error) {
	if err := r.claim(modeStream); err != nil {
		return nil, err
	}
	return &streamReader{ctx: ctx, r: r}, nil
}

// Next returns the next chunk, releasing the interpreter lock while the
// channel is empty. It returns io.EOF at end of stream.
func (r *Receiver) Next(h gvl.Host) ([]byte, error) {
	if err := r.claim(modeIter); err != nil {
		return nil, err
	}
	chunk, ok, err := r.buf.TryNext()
	if !ok && err == nil {
		chunk, err = rt.BlockOn(h, r.buf.NextContext)
	}
	return chunk, r.readErr(err)
}

// Each iterates over the remaining chunks. Iteration stops after the first
// error, which is yielded with a nil chunk; end of stream is not an error.
func (r *Receiver) Each(h gvl.Host) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := r.Next(h)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Close closes the read side: buffered chunks are dropped, producers get
// ErrChannelClosed and the upstream body of a streamer is closed.
func (r *Receiver) Close() error {
	if r.up != nil {
		return r.up.close()
	}
	r.buf.CloseWithError(ErrChannelClosed)
	return nil
}

func (r *Receiver) readErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, buffer.ErrIteratorDone):
		return io.EOF
	case errors.Is(err, ErrChannelClosed):
		return ErrChannelClosed
	default:
		return err
	}
}

type streamReader struct {
	ctx  context.Context
	r    *Receiver
	rest []byte
}

func (s *streamReader) Read(p []byte) (int, error) {
	for len(s.rest) == 0 {
		chunk, err := s.r.buf.NextContext(s.ctx)
		if err != nil {
			return 0, s.r.readErr(err)
		}
		s.rest = chunk
	}
	n := copy(p, s.rest)
	s.rest = s.rest[n:]
	return n, nil
}

func (s *streamReader) Close() error {
	return s.r.Close()
}
