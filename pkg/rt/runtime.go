// Package rt is the bridge between interpreter threads and the goroutines
// that perform network I/O on their behalf.
//
// A single process-wide [Runtime] is created on first use by [Default] and
// lives for the rest of the process. [BlockOn] submits a future to it with
// the interpreter lock released and waits for either the result or an
// interrupt from the host, whichever is first. When both are ready at once
// the interrupt wins.
package rt

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Runtime runs futures on goroutines and keeps count of them.
type Runtime struct {
	ctx    context.Context
	logger *slog.Logger

	spawned atomic.Int64
	active  atomic.Int64
}

// Stats is a snapshot of runtime activity.
type Stats struct {
	Spawned int64 // tasks started since creation
	Active  int64 // tasks currently running
}

// New creates a Runtime. A nil logger logs through slog.Default.
func New(logger *slog.Logger) *Runtime {
	return &Runtime{ctx: context.Background(), logger: logger}
}

// Default returns the shared runtime, creating it on first call.
var Default = sync.OnceValue(func() *Runtime {
	return New(nil)
})

// Context returns the root context of tasks that are not tied to an
// interpreter call.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Stats returns a snapshot of task counters.
func (r *Runtime) Stats() Stats {
	return Stats{Spawned: r.spawned.Load(), Active: r.active.Load()}
}

// Go runs fn on a new goroutine with the runtime's root context. A panic in
// fn is logged and swallowed.
func (r *Runtime) Go(fn func(ctx context.Context)) {
	r.spawn(r.ctx, func(ctx context.Context) {
		defer func() {
			if p := recover(); p != nil {
				r.log().Error("rt: task panicked", "panic", p, "stack", string(debug.Stack()))
			}
		}()
		fn(ctx)
	})
}

func (r *Runtime) spawn(ctx context.Context, fn func(ctx context.Context)) {
	r.spawned.Add(1)
	r.active.Add(1)
	go func() {
		defer r.active.Add(-1)
		fn(ctx)
	}()
}

func (r *Runtime) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}
