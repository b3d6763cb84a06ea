package rt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haivivi/wreq/go/pkg/gvl"
)

type closer struct{ closed atomic.Bool }

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

func TestBlockOn(t *testing.T) {
	t.Run("returns result", func(t *testing.T) {
		in := gvl.New()
		var got int
		err := in.Do(func(th *gvl.Thread) error {
			v, err := BlockOn(th, func(ctx context.Context) (int, error) {
				return 42, nil
			})
			got = v
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != 42 {
			t.Errorf("got=%d, want 42", got)
		}
	})

	t.Run("returns future error", func(t *testing.T) {
		want := errors.New("boom")
		_, err := BlockOn(gvl.Free, func(ctx context.Context) (int, error) {
			return 0, want
		})
		if !errors.Is(err, want) {
			t.Errorf("err=%v, want %v", err, want)
		}
	})

	t.Run("interrupt abandons a stuck future", func(t *testing.T) {
		in := gvl.New()
		started := make(chan struct{})
		futDone := make(chan error, 1)
		th := in.Go(func(th *gvl.Thread) error {
			_, err := BlockOn(th, func(ctx context.Context) (int, error) {
				close(started)
				<-ctx.Done()
				futDone <- context.Cause(ctx)
				return 0, ctx.Err()
			})
			return err
		})
		<-started
		th.Interrupt()

		select {
		case <-th.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("thread still blocked after interrupt")
		}
		if err := th.Wait(); !errors.Is(err, gvl.ErrInterrupted) {
			t.Errorf("err=%v, want ErrInterrupted", err)
		}
		if cause := <-futDone; !errors.Is(cause, gvl.ErrInterrupted) {
			t.Errorf("future cancelled with %v, want ErrInterrupted", cause)
		}
	})

	t.Run("interrupt wins a tie and closes the result", func(t *testing.T) {
		in := gvl.New()
		c := &closer{}
		release := make(chan struct{})
		started := make(chan struct{})
		th := in.Go(func(th *gvl.Thread) error {
			_, err := BlockOn(th, func(ctx context.Context) (*closer, error) {
				close(started)
				<-release
				return c, nil
			})
			return err
		})
		<-started
		th.Interrupt()
		close(release)
		if err := th.Wait(); !errors.Is(err, gvl.ErrInterrupted) {
			t.Fatalf("err=%v, want ErrInterrupted", err)
		}
		deadline := time.Now().Add(5 * time.Second)
		for !c.closed.Load() {
			if time.Now().After(deadline) {
				t.Fatal("abandoned result was never closed")
			}
			time.Sleep(time.Millisecond)
		}
	})

	t.Run("pending interrupt skips the future", func(t *testing.T) {
		in := gvl.New()
		var ran atomic.Bool
		gate := make(chan struct{})
		th := in.Go(func(th *gvl.Thread) error {
			<-gate
			_, err := BlockOn(th, func(ctx context.Context) (int, error) {
				ran.Store(true)
				return 1, nil
			})
			return err
		})
		th.Interrupt()
		close(gate)
		if err := th.Wait(); !errors.Is(err, gvl.ErrInterrupted) {
			t.Fatalf("err=%v, want ErrInterrupted", err)
		}
		if ran.Load() {
			t.Error("future ran despite pending interrupt")
		}
	})

	t.Run("panic is re-raised on caller", func(t *testing.T) {
		in := gvl.New()
		err := in.Do(func(th *gvl.Thread) error {
			_, err := BlockOn(th, func(ctx context.Context) (int, error) {
				panic("kaboom")
			})
			return err
		})
		if err == nil {
			t.Fatal("expected panic to surface as thread error")
		}
	})

	t.Run("counts tasks", func(t *testing.T) {
		r := New(nil)
		for range 3 {
			if _, err := blockOn(r, gvl.Free, func(ctx context.Context) (int, error) { return 0, nil }); err != nil {
				t.Fatal(err)
			}
		}
		if s := r.Stats(); s.Spawned != 3 {
			t.Errorf("spawned=%d, want 3", s.Spawned)
		}
	})
}

func TestMaybeBlockOn(t *testing.T) {
	v, ok := MaybeBlockOn(gvl.Free, func(ctx context.Context) (string, bool) {
		return "x", true
	})
	if !ok || v != "x" {
		t.Errorf("got (%q, %v)", v, ok)
	}
	_, ok = MaybeBlockOn(gvl.Free, func(ctx context.Context) (string, bool) {
		return "", false
	})
	if ok {
		t.Error("absent future reported present")
	}
}

func TestDefault(t *testing.T) {
	if Default() != Default() {
		t.Error("Default returned different runtimes")
	}
}
