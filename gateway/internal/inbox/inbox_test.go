package inbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
)

func TestInbox_FIFOAndTruncation(t *testing.T) {
	b := New(0)
	require.True(t, b.Push([]byte("hello world")))
	require.True(t, b.Push([]byte("second")))
	assert.Equal(t, 2, b.Len())

	buf := make([]byte, 5)
	n, err := b.Pop(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	buf = make([]byte, 64)
	n, err = b.Pop(buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))

	_, err = b.Pop(buf)
	assert.ErrorIs(t, err, api.ErrNoMessage)
}

func TestInbox_DropsNewestWhenFull(t *testing.T) {
	b := New(2)
	assert.True(t, b.Push([]byte("1")))
	assert.True(t, b.Push([]byte("2")))
	assert.False(t, b.Push([]byte("3")))
	assert.Equal(t, uint64(1), b.Dropped())

	buf := make([]byte, 1)
	n, _ := b.Pop(buf)
	assert.Equal(t, "1", string(buf[:n]))
}

func TestInbox_FailureIsReportedOnce(t *testing.T) {
	b := New(0)
	boom := errors.New("connection reset")
	b.Fail(boom)

	ready, err := b.Wait(0)
	require.NoError(t, err)
	assert.True(t, ready)

	_, err = b.Pop(make([]byte, 8))
	assert.ErrorIs(t, err, boom)

	ready, err = b.Wait(0)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestInbox_WaitWakesOnPush(t *testing.T) {
	b := New(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push([]byte("late"))
	}()
	ready, err := b.Wait(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestInbox_WaitTimesOut(t *testing.T) {
	b := New(0)
	start := time.Now()
	ready, err := b.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestInbox_CloseReleasesWaiters(t *testing.T) {
	b := New(0)
	done := make(chan error, 1)
	go func() {
		_, err := b.Wait(-1)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	b.Close()
	b.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, api.ErrInvalidHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}
	assert.False(t, b.Push([]byte("x")))
	_, err := b.Pop(make([]byte, 1))
	assert.ErrorIs(t, err, api.ErrInvalidHandle)
}
