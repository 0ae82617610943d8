package server

import (
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) deliver(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestMessageQueue_deliversInOrder(t *testing.T) {
	col := &collector{}
	q := NewMessageQueue(col.deliver, testutil.TestLogger(t), &stats.MockStatsUpdater{})
	defer q.Stop()

	want := []string{"alice: one", "alice: two", "alice: three"}
	for _, msg := range want {
		require.True(t, q.Enqueue(msg))
	}

	require.Eventually(t, func() bool {
		return len(col.snapshot()) == len(want)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, col.snapshot())
}

func TestMessageQueue_diesOnDeadTransport(t *testing.T) {
	q := NewMessageQueue(func(string) error {
		return syscall.EPIPE
	}, testutil.TestLogger(t), &stats.MockStatsUpdater{})
	defer q.Stop()

	require.True(t, q.Enqueue("alice: hi"))

	require.Eventually(t, func() bool {
		return !q.Enqueue("alice: anyone there")
	}, 2*time.Second, 10*time.Millisecond, "queue must refuse messages once the transport is gone")
}

func TestMessageQueue_retriesTransientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	var delivered []string

	q := NewMessageQueue(func(msg string) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("short write")
		}
		delivered = append(delivered, msg)
		return nil
	}, testutil.TestLogger(t), &stats.MockStatsUpdater{})
	defer q.Stop()

	require.True(t, q.Enqueue("alice: hi"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, 3*time.Second, 20*time.Millisecond, "message must survive a transient write error")
	assert.Equal(t, []string{"alice: hi"}, delivered)
}

func TestMessageQueue_stopDropsRemaining(t *testing.T) {
	col := &collector{}
	q := NewMessageQueue(col.deliver, testutil.TestLogger(t), &stats.MockStatsUpdater{})
	q.Stop()

	assert.False(t, q.Enqueue("alice: hi"), "stopped queue must not accept messages")
}
