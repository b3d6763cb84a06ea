package body

import (
	"context"
	"errors"
	"io"
	"runtime"

	"github.com/haivivi/wreq/go/pkg/buffer"
	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/rt"
)

const readChunkSize = 32 << 10

// NewStreamer forwards src into a bounded channel on the shared runtime and
// returns the receiving end. capacity <= 0 means DefaultCapacity.
//
// A read error from src ends the stream with that error, after the chunks
// read before it. Closing the receiver closes src. A receiver dropped
// without Close is closed once it is garbage collected; if fin is non-nil
// that release is deferred to an interpreter thread holding the lock.
func NewStreamer(src io.ReadCloser, capacity int, fin gvl.Finalizer) *Receiver {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	buf := buffer.BlockN[[]byte](capacity)
	up := &upstream{buf: buf, src: src}
	r := &Receiver{buf: buf, up: up}
	runtime.AddCleanup(r, func(u *upstream) {
		if fin != nil {
			fin.Defer(func() { u.close() })
			return
		}
		u.close()
	}, up)
	rt.Default().Go(func(ctx context.Context) {
		forward(ctx, src, buf)
	})
	return r
}

func forward(ctx context.Context, src io.Reader, buf *buffer.BlockBuffer[[]byte]) {
	for {
		p := make([]byte, readChunkSize)
		n, err := src.Read(p)
		if n > 0 {
			if addErr := buf.AddContext(ctx, p[:n]); addErr != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			buf.CloseWrite()
			return
		}
		if err != nil {
			if buf.Error() == nil {
				buf.CloseWriteWithError(err)
			}
			return
		}
	}
}
