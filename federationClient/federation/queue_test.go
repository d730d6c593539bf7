package federation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsAndDrains(t *testing.T) {
	q := NewQueue(2, 64, zerolog.Nop())
	require.ErrorIs(t, q.Submit("early", func(context.Context) error { return nil }), ErrQueueStopped)

	q.Start(context.Background())
	var done int32
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Submit("t", func(context.Context) error {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&done, 1)
			return nil
		}))
	}
	q.Stop()
	assert.Equal(t, int32(20), atomic.LoadInt32(&done))

	assert.ErrorIs(t, q.Submit("late", func(context.Context) error { return nil }), ErrQueueStopped)
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(1, 1, zerolog.Nop())
	q.Start(context.Background())
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, q.Submit("buffered", func(context.Context) error { return nil }))
	assert.ErrorIs(t, q.Submit("overflow", func(context.Context) error { return nil }), ErrQueueFull)
	close(release)
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	q := NewQueue(1, 4, zerolog.Nop())
	q.Start(context.Background())

	var ran int32
	require.NoError(t, q.Submit("panics", func(context.Context) error { panic("boom") }))
	require.NoError(t, q.Submit("after", func(context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	}))
	q.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
