// Package buffer provides a bounded, thread-safe FIFO queue for moving
// items between producers and consumers running on different goroutines.
//
// BlockBuffer blocks producers when full and consumers when empty. Every
// blocking call has a context-aware variant and a non-blocking Try variant
// so callers can choose between waiting, giving up or suspending somewhere
// else.
//
// There are three ways to end a buffer:
//
//   - CloseWrite: no more items; consumers drain what is left, then see
//     ErrIteratorDone.
//   - CloseWriteWithError: like CloseWrite, but once drained consumers see
//     the given error once before ErrIteratorDone.
//   - CloseWithError: both sides close immediately; buffered items are
//     dropped and every call fails with the error.
//
// Example usage:
//
//	buf := buffer.BlockN[[]byte](8)
//	go func() {
//		defer buf.CloseWrite()
//		for _, chunk := range chunks {
//			if err := buf.Add(chunk); err != nil {
//				return
//			}
//		}
//	}()
//	for {
//		chunk, err := buf.Next()
//		if errors.Is(err, buffer.ErrIteratorDone) {
//			break
//		}
//		...
//	}
package buffer

import "errors"

// ErrIteratorDone is returned by Next once the buffer is drained and
// closed for writing.
var ErrIteratorDone = errors.New("iterator done")
