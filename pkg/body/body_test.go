package body

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haivivi/wreq/go/pkg/gvl"
	"pgregory.net/rapid"
)

func TestChannel(t *testing.T) {
	t.Run("order", func(t *testing.T) {
		in := gvl.New()
		s, r := NewChannel(2)
		producer := in.Go(func(th *gvl.Thread) error {
			defer s.Close()
			for i := range 10 {
				if err := s.Push(th, []byte(fmt.Sprint(i))); err != nil {
					return err
				}
			}
			return nil
		})
		var got []string
		err := in.Do(func(th *gvl.Thread) error {
			for chunk, err := range r.Each(th) {
				if err != nil {
					return err
				}
				got = append(got, string(chunk))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := producer.Wait(); err != nil {
			t.Fatal(err)
		}
		if strings.Join(got, ",") != "0,1,2,3,4,5,6,7,8,9" {
			t.Errorf("got=%v", got)
		}
	})

	t.Run("backpressure", func(t *testing.T) {
		in := gvl.New()
		s, r := NewChannel(1)
		pushed := make(chan int, 3)
		producer := in.Go(func(th *gvl.Thread) error {
			for i := range 3 {
				if err := s.Push(th, []byte{byte(i)}); err != nil {
					return err
				}
				pushed <- i
			}
			return s.Close()
		})
		time.Sleep(20 * time.Millisecond)
		if n := len(pushed); n != 1 {
			t.Fatalf("%d pushes completed with capacity 1 and no consumer", n)
		}
		// The blocked producer released the lock, so this thread can run.
		err := in.Do(func(th *gvl.Thread) error {
			for range 3 {
				if _, err := r.Next(th); err != nil {
					return err
				}
			}
			if _, err := r.Next(th); err != io.EOF {
				return fmt.Errorf("next after close: %v, want io.EOF", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := producer.Wait(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("push after close", func(t *testing.T) {
		s, _ := NewChannel(1)
		s.Close()
		s.Close()
		if err := s.Push(gvl.Free, []byte("x")); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("err=%v, want ErrChannelClosed", err)
		}
	})

	t.Run("push after receiver close", func(t *testing.T) {
		s, r := NewChannel(1)
		r.Close()
		if err := s.Push(gvl.Free, []byte("x")); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("err=%v, want ErrChannelClosed", err)
		}
		if _, err := r.Next(gvl.Free); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("next err=%v, want ErrChannelClosed", err)
		}
	})

	t.Run("abort", func(t *testing.T) {
		s, r := NewChannel(4)
		s.Push(gvl.Free, []byte("a"))
		s.Push(gvl.Free, []byte("b"))
		if err := s.Abort("user cancelled"); err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"a", "b"} {
			chunk, err := r.Next(gvl.Free)
			if err != nil || string(chunk) != want {
				t.Fatalf("next=(%q, %v), want %q", chunk, err, want)
			}
		}
		_, err := r.Next(gvl.Free)
		var ae *AbortError
		if !errors.As(err, &ae) || ae.Message != "user cancelled" {
			t.Fatalf("err=%v, want AbortError", err)
		}
		if _, err := r.Next(gvl.Free); err != io.EOF {
			t.Fatalf("err=%v, want io.EOF", err)
		}
		if err := s.Abort("again"); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("second abort err=%v, want ErrChannelClosed", err)
		}
	})

	t.Run("abort after close", func(t *testing.T) {
		s, r := NewChannel(1)
		s.Close()
		if err := s.Abort("late"); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("err=%v, want ErrChannelClosed", err)
		}
		if _, err := r.Next(gvl.Free); err != io.EOF {
			t.Errorf("next err=%v, want io.EOF", err)
		}
	})

	t.Run("clones", func(t *testing.T) {
		s, r := NewChannel(4)
		c := s.Clone()
		s.Push(gvl.Free, []byte("s"))
		s.Close()
		c.Push(gvl.Free, []byte("c"))
		if chunk, _ := r.Next(gvl.Free); string(chunk) != "s" {
			t.Fatalf("chunk=%q", chunk)
		}
		if chunk, _ := r.Next(gvl.Free); string(chunk) != "c" {
			t.Fatalf("chunk=%q", chunk)
		}
		c.Close()
		if _, err := r.Next(gvl.Free); err != io.EOF {
			t.Fatalf("err=%v, want io.EOF once every clone closed", err)
		}
		if err := s.Clone().Push(gvl.Free, nil); !errors.Is(err, ErrChannelClosed) {
			t.Errorf("clone of closed sender push err=%v", err)
		}
	})

	t.Run("push copies chunk", func(t *testing.T) {
		s, r := NewChannel(1)
		p := []byte("abc")
		s.Push(gvl.Free, p)
		p[0] = 'x'
		if chunk, _ := r.Next(gvl.Free); string(chunk) != "abc" {
			t.Errorf("chunk=%q, want abc", chunk)
		}
	})
}

func TestChannelInterrupt(t *testing.T) {
	t.Run("blocked push", func(t *testing.T) {
		in := gvl.New()
		s, r := NewChannel(1)
		s.Push(gvl.Free, []byte("fill"))
		started := make(chan struct{})
		th := in.Go(func(th *gvl.Thread) error {
			close(started)
			return s.Push(th, []byte("blocked"))
		})
		<-started
		time.Sleep(10 * time.Millisecond)
		th.Interrupt()
		select {
		case <-th.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("push still blocked after interrupt")
		}
		if err := th.Wait(); !errors.Is(err, gvl.ErrInterrupted) {
			t.Fatalf("err=%v, want ErrInterrupted", err)
		}

		// The channel is still usable.
		if chunk, err := r.Next(gvl.Free); err != nil || string(chunk) != "fill" {
			t.Fatalf("next=(%q, %v)", chunk, err)
		}
		if err := s.Push(gvl.Free, []byte("after")); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("blocked next", func(t *testing.T) {
		in := gvl.New()
		_, r := NewChannel(1)
		started := make(chan struct{})
		th := in.Go(func(th *gvl.Thread) error {
			close(started)
			_, err := r.Next(th)
			return err
		})
		<-started
		time.Sleep(10 * time.Millisecond)
		th.Interrupt()
		if err := th.Wait(); !errors.Is(err, gvl.ErrInterrupted) {
			t.Fatalf("err=%v, want ErrInterrupted", err)
		}
	})
}

func TestReceiverSingleConsumption(t *testing.T) {
	t.Run("stream twice", func(t *testing.T) {
		_, r := NewChannel(1)
		if _, err := r.Stream(context.Background()); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Stream(context.Background()); !errors.Is(err, ErrStreamAlreadyConsumed) {
			t.Errorf("err=%v, want ErrStreamAlreadyConsumed", err)
		}
		if _, err := r.Next(gvl.Free); !errors.Is(err, ErrStreamAlreadyConsumed) {
			t.Errorf("err=%v, want ErrStreamAlreadyConsumed", err)
		}
	})

	t.Run("stream after iterate", func(t *testing.T) {
		s, r := NewChannel(1)
		s.Push(gvl.Free, []byte("x"))
		if _, err := r.Next(gvl.Free); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Stream(context.Background()); !errors.Is(err, ErrStreamAlreadyConsumed) {
			t.Errorf("err=%v, want ErrStreamAlreadyConsumed", err)
		}
	})
}

func TestStream(t *testing.T) {
	s, r := NewChannel(2)
	go func() {
		for _, c := range []string{"hello", " ", "", "world"} {
			if err := s.PushContext(context.Background(), []byte(c)); err != nil {
				return
			}
		}
		s.Close()
	}()
	rc, err := r.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("data=%q", data)
	}
}

func TestStreamAbort(t *testing.T) {
	s, r := NewChannel(2)
	s.Push(gvl.Free, []byte("part"))
	s.Abort("disk full")
	rc, _ := r.Stream(context.Background())
	data, err := io.ReadAll(rc)
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v, want AbortError", err)
	}
	if string(data) != "part" {
		t.Errorf("data=%q", data)
	}
}

type failingReader struct {
	data   []byte
	err    error
	closed bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *failingReader) Close() error {
	f.closed = true
	return nil
}

func TestStreamer(t *testing.T) {
	t.Run("forwards body", func(t *testing.T) {
		payload := bytes.Repeat([]byte("0123456789"), 10000)
		r := NewStreamer(io.NopCloser(bytes.NewReader(payload)), 2, nil)
		var got []byte
		for chunk, err := range r.Each(gvl.Free) {
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, chunk...)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("got %d bytes, want %d", len(got), len(payload))
		}
	})

	t.Run("upstream error unchanged", func(t *testing.T) {
		want := errors.New("connection reset")
		src := &failingReader{data: []byte("head"), err: want}
		r := NewStreamer(src, 1, nil)
		chunk, err := r.Next(gvl.Free)
		if err != nil || string(chunk) != "head" {
			t.Fatalf("next=(%q, %v)", chunk, err)
		}
		if _, err := r.Next(gvl.Free); err != want {
			t.Fatalf("err=%v, want %v", err, want)
		}
		r.Close()
		if !src.closed {
			t.Error("closing the receiver did not close the source")
		}
	})

	t.Run("dropped receiver closes source", func(t *testing.T) {
		src := &endlessReader{}
		dropStreamer(src, nil)
		if !collectUntil(src.closed.Load) {
			t.Fatal("source still open after the receiver was collected")
		}
	})

	t.Run("dropped receiver is released under the lock", func(t *testing.T) {
		in := gvl.New()
		fin := &queueingFinalizer{in: in}
		holding := make(chan struct{})
		letGo := make(chan struct{})
		holder := in.Go(func(th *gvl.Thread) error {
			close(holding)
			<-letGo
			return nil
		})
		<-holding

		src := &endlessReader{}
		dropStreamer(src, fin)
		if !collectUntil(fin.queued.Load) {
			t.Fatal("cleanup never ran")
		}
		if src.closed.Load() {
			t.Fatal("source closed while another thread held the lock")
		}

		close(letGo)
		if err := holder.Wait(); err != nil {
			t.Fatal(err)
		}
		in.Do(func(*gvl.Thread) error { return nil })
		if !src.closed.Load() {
			t.Error("source still open after a thread took the lock")
		}
	})
}

// endlessReader never runs out of data.
type endlessReader struct {
	closed atomic.Bool
}

func (e *endlessReader) Read(p []byte) (int, error) {
	if e.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return len(p), nil
}

func (e *endlessReader) Close() error {
	e.closed.Store(true)
	return nil
}

type queueingFinalizer struct {
	in     *gvl.Interpreter
	queued atomic.Bool
}

func (f *queueingFinalizer) Defer(fn func()) {
	f.in.Defer(fn)
	f.queued.Store(true)
}

//go:noinline
func dropStreamer(src io.ReadCloser, fin gvl.Finalizer) {
	NewStreamer(src, 1, fin)
}

// collectUntil runs the garbage collector until cond holds or a few
// seconds have passed.
func collectUntil(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
	return true
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(rt, "capacity")
		chunks := rapid.SliceOf(rapid.SliceOfN(rapid.Byte(), 0, 4096)).Draw(rt, "chunks")
		s, r := NewChannel(capacity)
		go func() {
			for _, c := range chunks {
				if err := s.Push(gvl.Free, c); err != nil {
					return
				}
			}
			s.Close()
		}()
		var got [][]byte
		for chunk, err := range r.Each(gvl.Free) {
			if err != nil {
				rt.Fatal(err)
			}
			got = append(got, chunk)
		}
		if len(got) != len(chunks) {
			rt.Fatalf("got %d chunks, want %d", len(got), len(chunks))
		}
		for i := range chunks {
			if !bytes.Equal(got[i], chunks[i]) {
				rt.Fatalf("chunk %d differs", i)
			}
		}
	})
}
