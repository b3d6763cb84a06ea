package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestBlockBuffer(t *testing.T) {
	t.Run("size=1", func(t *testing.T) {
		bb := BlockN[int](1)
		closed := make(chan struct{})
		producerErr := make(chan error, 1)
		go func() {
			for _, v := range []int{1, 2, 3} {
				if err := bb.Add(v); err != nil {
					producerErr <- fmt.Errorf("add %d with error: %w", v, err)
					return
				}
			}

			<-closed

			if err := bb.Add(4); !errors.Is(err, io.ErrClosedPipe) {
				producerErr <- fmt.Errorf("add 4 after close: err=%v", err)
				return
			}
			producerErr <- nil
		}()

		for _, want := range []int{1, 2, 3} {
			v, err := bb.Next()
			if err != nil {
				t.Fatalf("next with error: %v", err)
			}
			if v != want {
				t.Errorf("next with v=%d, want %d", v, want)
			}
		}
		if err := bb.CloseWrite(); err != nil {
			t.Errorf("close write with error: %v", err)
		}
		close(closed)
		if err := <-producerErr; err != nil {
			t.Fatal(err)
		}
		if _, err := bb.Next(); !errors.Is(err, ErrIteratorDone) {
			t.Errorf("next after close: err=%v, want ErrIteratorDone", err)
		}
	})

	t.Run("drain after close write", func(t *testing.T) {
		bb := BlockN[string](4)
		for _, s := range []string{"a", "b", "c"} {
			if err := bb.Add(s); err != nil {
				t.Fatal(err)
			}
		}
		bb.CloseWrite()
		var got []string
		for {
			s, err := bb.Next()
			if errors.Is(err, ErrIteratorDone) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, s)
		}
		if fmt.Sprint(got) != "[a b c]" {
			t.Errorf("got=%v", got)
		}
	})

	t.Run("tail error after drain", func(t *testing.T) {
		bb := BlockN[int](2)
		bb.Add(1)
		want := errors.New("upstream gone")
		if err := bb.CloseWriteWithError(want); err != nil {
			t.Fatal(err)
		}
		if v, err := bb.Next(); err != nil || v != 1 {
			t.Fatalf("next=(%d, %v), want (1, nil)", v, err)
		}
		if _, err := bb.Next(); err != want {
			t.Fatalf("next err=%v, want %v unwrapped", err, want)
		}
		if _, err := bb.Next(); !errors.Is(err, ErrIteratorDone) {
			t.Fatalf("next err=%v, want ErrIteratorDone", err)
		}
		if err := bb.CloseWriteWithError(errors.New("again")); !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("second close err=%v, want ErrClosedPipe", err)
		}
	})

	t.Run("close with error drops items", func(t *testing.T) {
		bb := BlockN[int](2)
		bb.Add(1)
		want := errors.New("reader gone")
		bb.CloseWithError(want)
		if _, err := bb.Next(); !errors.Is(err, want) {
			t.Errorf("next err=%v, want %v", err, want)
		}
		if err := bb.Add(2); !errors.Is(err, want) {
			t.Errorf("add err=%v, want %v", err, want)
		}
		if bb.Len() != 0 {
			t.Errorf("len=%d, want 0", bb.Len())
		}
		if !errors.Is(bb.Error(), want) {
			t.Errorf("Error()=%v", bb.Error())
		}
	})

	t.Run("close unblocks waiting producer", func(t *testing.T) {
		bb := BlockN[int](1)
		bb.Add(1)
		errc := make(chan error, 1)
		go func() { errc <- bb.Add(2) }()
		time.Sleep(10 * time.Millisecond)
		bb.Close()
		select {
		case err := <-errc:
			if !errors.Is(err, io.ErrClosedPipe) {
				t.Errorf("err=%v, want ErrClosedPipe", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("producer still blocked")
		}
	})
}

func TestBlockBufferTry(t *testing.T) {
	bb := BlockN[int](2)
	for i := range 2 {
		ok, err := bb.TryAdd(i)
		if err != nil || !ok {
			t.Fatalf("TryAdd(%d)=(%v, %v)", i, ok, err)
		}
	}
	if ok, err := bb.TryAdd(3); ok || err != nil {
		t.Fatalf("TryAdd on full buffer=(%v, %v), want (false, nil)", ok, err)
	}
	if v, ok, err := bb.TryNext(); !ok || err != nil || v != 0 {
		t.Fatalf("TryNext=(%d, %v, %v)", v, ok, err)
	}
	bb.TryNext()
	if _, ok, err := bb.TryNext(); ok || err != nil {
		t.Fatalf("TryNext on empty buffer=(%v, %v)", ok, err)
	}
	bb.CloseWrite()
	if _, _, err := bb.TryNext(); !errors.Is(err, ErrIteratorDone) {
		t.Fatalf("TryNext after close err=%v", err)
	}
	if _, err := bb.TryAdd(1); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("TryAdd after close err=%v", err)
	}
}

func TestBlockBufferContext(t *testing.T) {
	t.Run("add gives up", func(t *testing.T) {
		bb := BlockN[int](1)
		bb.Add(1)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := bb.AddContext(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v, want DeadlineExceeded", err)
		}
		if bb.Len() != 1 {
			t.Errorf("len=%d, want 1", bb.Len())
		}
		// Still usable after a cancelled wait.
		if v, err := bb.Next(); err != nil || v != 1 {
			t.Fatalf("next=(%d, %v)", v, err)
		}
	})

	t.Run("next gives up", func(t *testing.T) {
		bb := BlockN[int](1)
		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() {
			_, err := bb.NextContext(ctx)
			errc <- err
		}()
		time.Sleep(10 * time.Millisecond)
		cancel()
		select {
		case err := <-errc:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err=%v, want Canceled", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("NextContext ignored cancellation")
		}
	})
}

func TestBlockBufferBackpressure(t *testing.T) {
	const capacity = 3
	bb := BlockN[int](capacity)
	var wg sync.WaitGroup
	added := make(chan int, 10)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 10 {
			if err := bb.Add(i); err != nil {
				return
			}
			added <- i
		}
	}()
	time.Sleep(20 * time.Millisecond)
	if n := len(added); n != capacity {
		t.Fatalf("producer completed %d adds with no consumer, want %d", n, capacity)
	}
	for range 10 {
		if _, err := bb.Next(); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestBlockBufferOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(rt, "capacity")
		items := rapid.SliceOf(rapid.Int()).Draw(rt, "items")
		bb := BlockN[int](capacity)
		go func() {
			for _, v := range items {
				if err := bb.Add(v); err != nil {
					return
				}
			}
			bb.CloseWrite()
		}()
		var got []int
		for {
			v, err := bb.Next()
			if errors.Is(err, ErrIteratorDone) {
				break
			}
			if err != nil {
				rt.Fatal(err)
			}
			got = append(got, v)
		}
		if len(got) != len(items) {
			rt.Fatalf("got %d items, want %d", len(got), len(items))
		}
		for i := range items {
			if got[i] != items[i] {
				rt.Fatalf("item %d: got %d, want %d", i, got[i], items[i])
			}
		}
	})
}
