// File: gateway/internal/inbox/inbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbox is the per-socket receive queue shared by the gateways. Producers
// (reader goroutines or in-process peers) push whole messages; the dispatch
// side polls with a timeout and pops one message at a time into a caller
// buffer, truncating to its length.

package inbox

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-mq/api"
)

// DefaultMaxPending bounds queued messages per socket.
const DefaultMaxPending = 1000

// Inbox is a bounded FIFO of messages with a waitable readiness signal.
// When full, the newest message is dropped and counted.
type Inbox struct {
	mu      sync.Mutex
	q       *queue.Queue
	max     int
	wake    chan struct{}
	fault   error
	closed  bool
	dropped uint64
}

// New creates an inbox holding at most max messages. max <= 0 uses DefaultMaxPending.
func New(max int) *Inbox {
	if max <= 0 {
		max = DefaultMaxPending
	}
	return &Inbox{
		q:    queue.New(),
		max:  max,
		wake: make(chan struct{}),
	}
}

// signal wakes every waiter. Caller holds mu.
func (b *Inbox) signal() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Push enqueues msg without copying it. It returns false when the inbox is
// closed or full.
func (b *Inbox) Push(msg []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if b.q.Length() >= b.max {
		b.dropped++
		return false
	}
	b.q.Add(msg)
	b.signal()
	return true
}

// Fail records err to be returned by the next Pop. Later failures replace
// an undelivered one.
func (b *Inbox) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || err == nil {
		return
	}
	b.fault = err
	b.signal()
}

// Pop copies the oldest message into buf and returns the copied length.
// A pending failure is reported first, once. An empty inbox returns
// api.ErrNoMessage; a closed one api.ErrInvalidHandle.
func (b *Inbox) Pop(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, api.ErrInvalidHandle
	}
	if b.fault != nil {
		err := b.fault
		b.fault = nil
		return 0, err
	}
	if b.q.Length() == 0 {
		return 0, api.ErrNoMessage
	}
	msg := b.q.Remove().([]byte)
	return copy(buf, msg), nil
}

// Wait reports whether a message or failure is pending, blocking up to
// timeout for one to arrive. A zero timeout checks once; a negative one
// waits until ready or closed.
func (b *Inbox) Wait(timeout time.Duration) (bool, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return false, api.ErrInvalidHandle
		}
		if b.fault != nil || b.q.Length() > 0 {
			b.mu.Unlock()
			return true, nil
		}
		wake := b.wake
		b.mu.Unlock()

		if timeout == 0 {
			return false, nil
		}
		select {
		case <-wake:
		case <-deadline:
			return false, nil
		}
	}
}

// Len returns the number of queued messages.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Dropped returns how many messages were discarded because the inbox was full.
func (b *Inbox) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close discards queued messages and releases waiters. Idempotent.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.q = queue.New()
	b.fault = nil
	b.signal()
}
