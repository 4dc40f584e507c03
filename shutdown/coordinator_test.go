package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalOnlyOnce(t *testing.T) {
	c := New()
	assert.False(t, c.ShuttingDown())
	assert.True(t, c.Signal())
	assert.False(t, c.Signal())
	assert.True(t, c.ShuttingDown())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel not closed after Signal")
	}
}

func TestTasksObserveSignal(t *testing.T) {
	c := New()
	var finished int32
	for i := 0; i < 5; i++ {
		require.True(t, c.Go(func(done <-chan struct{}) {
			<-done
			atomic.AddInt32(&finished, 1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.EqualValues(t, 5, atomic.LoadInt32(&finished))
}

func TestGoRefusedAfterSignal(t *testing.T) {
	c := New()
	c.Signal()
	ran := false
	assert.False(t, c.Go(func(<-chan struct{}) { ran = true }))
	require.NoError(t, c.Wait(context.Background()))
	assert.False(t, ran)
}

func TestWaitHonoursContext(t *testing.T) {
	c := New()
	release := make(chan struct{})
	c.Go(func(<-chan struct{}) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)
}

func TestContextCancelledOnSignal(t *testing.T) {
	c := New()
	ctx, cancel := c.Context(context.Background())
	defer cancel()

	assert.NoError(t, ctx.Err())
	c.Signal()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after Signal")
	}
}
