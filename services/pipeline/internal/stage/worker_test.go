package stage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRunsTicksSerially(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, overlap atomic.Int32
	done := make(chan struct{}, 10)
	w := New("decode", 10, func(context.Context) {
		if running.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		done <- struct{}{}
	})
	w.Start(ctx)
	w.Start(ctx) // second start is ignored

	for i := 0; i < 5; i++ {
		require.True(t, w.Trigger())
	}
	for i := 0; i < 5; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("tick did not run")
		}
	}
	assert.Equal(t, int32(0), overlap.Load())
	assert.Eventually(t, func() bool { return w.Ticks() == 5 }, time.Second, time.Millisecond)
}

func TestTriggerDropsWhenFull(t *testing.T) {
	var hooked atomic.Int32
	w := New("transfer", 2, func(context.Context) {}, WithDropHook(func() { hooked.Add(1) }))

	// Not started: the queue only fills.
	assert.True(t, w.Trigger())
	assert.True(t, w.Trigger())
	assert.False(t, w.Trigger())
	assert.False(t, w.Trigger())

	assert.Equal(t, uint32(2), w.Drops())
	assert.Equal(t, int32(2), hooked.Load())
	assert.Equal(t, 2, w.Pending())
	assert.Equal(t, "transfer", w.Name())
}

func TestWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New("decode", 1, func(context.Context) {})
	w.Start(ctx)
	cancel()
	select {
	case <-w.Stopped():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
