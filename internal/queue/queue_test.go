package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoxygen/camd/internal/frame"
)

func testFrame(n byte) frame.Frame {
	return frame.Frame{0xFF, 0xD8, n, 0xFF, 0xD9}
}

func TestFIFO(t *testing.T) {
	q := New(100)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Enqueue(ctx, testFrame(byte(i))))
	}
	assert.Equal(t, 50, q.Len())

	for i := 0; i < 50; i++ {
		f, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, testFrame(byte(i)), f)
	}
	assert.Equal(t, 0, q.Len())

	s := q.Stats()
	assert.EqualValues(t, 50, s.Enqueued)
	assert.EqualValues(t, 50, s.Dequeued)
	assert.Equal(t, 50, s.HighWater)
	assert.Equal(t, 100, s.Capacity)
}

func TestConcurrentOrder(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	const n = 2000

	go func() {
		for i := 0; i < n; i++ {
			if err := q.Enqueue(ctx, frame.Frame{byte(i >> 8), byte(i)}); err != nil {
				t.Error(err)
				return
			}
		}
		q.Close()
	}()

	for i := 0; ; i++ {
		f, err := q.Dequeue(ctx)
		if err == ErrClosed {
			assert.Equal(t, n, i)
			break
		}
		require.NoError(t, err)
		require.Equal(t, frame.Frame{byte(i >> 8), byte(i)}, f)
	}
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testFrame(1)))

	accepted := make(chan error, 1)
	go func() {
		accepted <- q.Enqueue(ctx, testFrame(2))
	}()

	select {
	case err := <-accepted:
		t.Fatalf("Enqueue on a full queue returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.EqualValues(t, 1, q.Stats().Blocked)

	f, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, testFrame(1), f)

	select {
	case err := <-accepted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not resume after a slot was freed")
	}

	f, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, testFrame(2), f)
}

func TestEnqueueContextCancel(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(context.Background(), testFrame(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, testFrame(2))
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, q.Len())
}

func TestDequeueContextCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := q.Dequeue(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestCloseDrains(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testFrame(1)))
	require.NoError(t, q.Enqueue(ctx, testFrame(2)))

	q.Close()
	q.Close()

	assert.Equal(t, ErrClosed, q.Enqueue(ctx, testFrame(3)))

	f, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, testFrame(1), f)
	f, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, testFrame(2), f)

	_, err = q.Dequeue(ctx)
	assert.Equal(t, ErrClosed, err)
	assert.True(t, q.Stats().Closed)
}

func TestCloseWakesWaiters(t *testing.T) {
	ctx := context.Background()

	empty := New(1)
	dequeued := make(chan error, 1)
	go func() {
		_, err := empty.Dequeue(ctx)
		dequeued <- err
	}()

	full := New(1)
	require.NoError(t, full.Enqueue(ctx, testFrame(1)))
	enqueued := make(chan error, 1)
	go func() {
		enqueued <- full.Enqueue(ctx, testFrame(2))
	}()

	time.Sleep(20 * time.Millisecond)
	empty.Close()
	full.Close()

	for _, ch := range []chan error{dequeued, enqueued} {
		select {
		case err := <-ch:
			assert.Equal(t, ErrClosed, err)
		case <-time.After(time.Second):
			t.Fatal("waiter not woken by Close")
		}
	}
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New(0) })
}
