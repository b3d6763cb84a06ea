package wreq

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/rt"
)

type bodyState int

const (
	bodyStreamable bodyState = iota
	bodyReusable
	bodyEmpty
)

type bodySlot struct {
	state bodyState
	src   io.ReadCloser
	data  []byte
}

// bodyHolder owns a response body. Callers check the slot out, work on it
// with the interpreter lock possibly released, and put it back. A second
// caller arriving meanwhile gets ErrBorrowConflict instead of waiting.
type bodyHolder struct {
	mu       sync.Mutex
	slot     bodySlot
	borrowed bool
	poisoned bool
}

func newBodyHolder(src io.ReadCloser) *bodyHolder {
	return &bodyHolder{slot: bodySlot{state: bodyStreamable, src: src}}
}

func (b *bodyHolder) borrow(fn func(s *bodySlot) error) (err error) {
	b.mu.Lock()
	switch {
	case b.poisoned:
		b.mu.Unlock()
		return ErrSyncPoisoned
	case b.borrowed:
		b.mu.Unlock()
		return ErrBorrowConflict
	}
	b.borrowed = true
	slot := b.slot
	b.mu.Unlock()

	completed := false
	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.borrowed = false
		if !completed {
			b.poisoned = true
			return
		}
		b.slot = slot
	}()
	err = fn(&slot)
	completed = true
	return err
}

// bytes returns the whole body, reading it from the network on first use.
func (b *bodyHolder) bytes(h gvl.Host) ([]byte, error) {
	var data []byte
	err := b.borrow(func(s *bodySlot) error {
		switch s.state {
		case bodyEmpty:
			return ErrBodyConsumed
		case bodyReusable:
			data = s.data
			return nil
		}
		src := s.src
		buf, err := rt.BlockOn(h, func(ctx context.Context) ([]byte, error) {
			stop := context.AfterFunc(ctx, func() { src.Close() })
			defer stop()
			return io.ReadAll(src)
		})
		src.Close()
		if err != nil {
			*s = bodySlot{state: bodyEmpty}
			if errors.Is(err, gvl.ErrInterrupted) {
				return err
			}
			return &Error{Kind: KindBody, Err: err}
		}
		if buf == nil {
			buf = []byte{}
		}
		*s = bodySlot{state: bodyReusable, data: buf}
		data = buf
		return nil
	})
	return data, err
}

// stream hands out the body as a reader. A streamable body moves out of
// the holder; a buffered body stays and is served from memory.
func (b *bodyHolder) stream() (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := b.borrow(func(s *bodySlot) error {
		switch s.state {
		case bodyEmpty:
			return ErrBodyConsumed
		case bodyReusable:
			rc = io.NopCloser(bytes.NewReader(s.data))
			return nil
		}
		rc = s.src
		*s = bodySlot{state: bodyEmpty}
		return nil
	})
	return rc, err
}

func (b *bodyHolder) close() error {
	return b.borrow(func(s *bodySlot) error {
		src := s.src
		*s = bodySlot{state: bodyEmpty}
		if src != nil {
			return src.Close()
		}
		return nil
	})
}

// release drops the body regardless of borrow state. It runs when the
// owning response becomes unreachable.
func (b *bodyHolder) release() {
	b.mu.Lock()
	src := b.slot.src
	b.slot = bodySlot{state: bodyEmpty}
	b.mu.Unlock()
	if src != nil {
		src.Close()
	}
}
