// Package stage runs one pipeline stage on its own goroutine.
//
// Completion interrupts only enqueue a trigger; the tick itself always runs
// on the worker, one at a time.
package stage

import (
	"context"
	"sync/atomic"
)

// Tick is one unit of stage work.
type Tick func(ctx context.Context)

type Worker struct {
	name string
	tick Tick

	// Written from interrupt context; MUST NOT block.
	trigQ   chan struct{}
	stopped chan struct{}
	started atomic.Bool

	drops  atomic.Uint32
	ticks  atomic.Uint64
	onDrop func()
}

// Option configures a Worker.
type Option func(*Worker)

// WithDropHook is called (from the triggering goroutine) on every drop.
func WithDropHook(fn func()) Option { return func(w *Worker) { w.onDrop = fn } }

func New(name string, queue int, tick Tick, opts ...Option) *Worker {
	if queue <= 0 {
		queue = 64
	}
	w := &Worker{
		name:    name,
		tick:    tick,
		trigQ:   make(chan struct{}, queue),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Worker) Name() string { return w.name }

// Start runs the worker until ctx is done. Later calls are ignored.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.trigQ:
				w.tick(ctx)
				w.ticks.Add(1)
			}
		}
	}()
}

// Trigger queues one tick. It never blocks; a full queue drops the trigger.
func (w *Worker) Trigger() bool {
	select {
	case w.trigQ <- struct{}{}:
		return true
	default:
		w.drops.Add(1)
		if w.onDrop != nil {
			w.onDrop()
		}
		return false
	}
}

// Stopped is closed once the worker goroutine has returned.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

func (w *Worker) Drops() uint32 { return w.drops.Load() }
func (w *Worker) Ticks() uint64 { return w.ticks.Load() }
func (w *Worker) Pending() int  { return len(w.trigQ) }
