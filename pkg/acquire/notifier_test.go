package acquire

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *stepClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += time.Millisecond
	return c.now
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierRejectsUnconsumedSlot(t *testing.T) {
	n := newNotifier(3, &stepClock{}, discardLogger())

	for i := 0; i < 3; i++ {
		assert.True(t, n.frameDone())
	}
	available, rejected, _ := n.stats()
	require.Equal(t, 3, available)
	require.Zero(t, rejected)

	// the fourth arrival wraps onto slot 0, which is still valid
	assert.True(t, n.frameDone(), "rejected arrivals still re-arm")
	available, rejected, _ = n.stats()
	assert.Equal(t, 3, available)
	assert.Equal(t, uint64(1), rejected)

	ts, ok := n.take(0, true)
	assert.True(t, ok)
	assert.Equal(t, time.Millisecond, ts, "first arrival time is kept")

	assert.True(t, n.frameDone())
	available, rejected, _ = n.stats()
	assert.Equal(t, 3, available)
	assert.Equal(t, uint64(1), rejected)
}

func TestNotifierTakeUntimedSlot(t *testing.T) {
	n := newNotifier(2, &stepClock{}, discardLogger())
	n.frameDone()

	ts, ok := n.take(1, true)
	assert.False(t, ok)
	assert.Equal(t, NoTimestamp, ts)

	available, _, _ := n.stats()
	assert.Zero(t, available)

	_, ok = n.take(0, true)
	assert.True(t, ok)
	available, _, _ = n.stats()
	assert.Zero(t, available, "never negative")
}

func TestNotifierStartTimeLatchedOnce(t *testing.T) {
	n := newNotifier(2, &stepClock{}, discardLogger())
	assert.True(t, n.startTime().IsZero())

	n.frameDone()
	first := n.startTime()
	require.False(t, first.IsZero())

	n.take(0, true)
	n.frameDone()
	assert.Equal(t, first, n.startTime())
}

func TestNotifierSequencingAssertions(t *testing.T) {
	n := newNotifier(2, &stepClock{}, discardLogger())

	assert.True(t, n.acquisitionDone())
	_, _, assertions := n.stats()
	assert.Equal(t, uint64(1), assertions, "stop before start")

	assert.True(t, n.acquisitionStarted())
	assert.True(t, n.acquisitionStarted())
	_, _, assertions = n.stats()
	assert.Equal(t, uint64(2), assertions, "double start")

	assert.True(t, n.acquisitionDone())
	_, _, assertions = n.stats()
	assert.Equal(t, uint64(2), assertions)
}

func TestNotifierWaitAvailable(t *testing.T) {
	n := newNotifier(2, &stepClock{}, discardLogger())

	done := make(chan error, 1)
	go func() { done <- n.waitAvailable(context.Background()) }()

	select {
	case <-done:
		t.Fatal("wait returned with nothing available")
	case <-time.After(20 * time.Millisecond):
	}

	n.frameDone()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by frame arrival")
	}
}

func TestNotifierWaitCancelled(t *testing.T) {
	n := newNotifier(2, &stepClock{}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.waitAvailable(ctx), context.DeadlineExceeded)
}

func TestNotifierClose(t *testing.T) {
	n := newNotifier(2, &stepClock{}, discardLogger())

	done := make(chan error, 1)
	go func() { done <- n.waitAvailable(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	n.close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by close")
	}
	assert.False(t, n.frameDone(), "closed notifier disarms")
}
