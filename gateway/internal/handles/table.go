// File: gateway/internal/handles/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Table maps opaque socket handles to gateway-private socket state and keeps
// the gateway's last diagnostic string.

package handles

import (
	"fmt"
	"sort"
	"sync"

	"github.com/momentics/hioload-mq/api"
)

// Table is safe for concurrent use. Handles are never reused.
type Table[T any] struct {
	mu      sync.RWMutex
	next    api.Handle
	items   map[api.Handle]T
	lastErr string
}

// New creates an empty table. The first handle issued is 1.
func New[T any]() *Table[T] {
	return &Table[T]{next: 1, items: make(map[api.Handle]T)}
}

// Add stores v under a fresh handle.
func (t *Table[T]) Add(v T) api.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.items[h] = v
	return h
}

// Get returns the value for h, or api.ErrInvalidHandle.
func (t *Table[T]) Get(h api.Handle) (T, error) {
	t.mu.RLock()
	v, ok := t.items[h]
	t.mu.RUnlock()
	if !ok {
		t.Failf("Invalid socket ID")
		return v, api.ErrInvalidHandle
	}
	return v, nil
}

// Remove deletes and returns the value for h, or api.ErrInvalidHandle.
func (t *Table[T]) Remove(h api.Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[h]
	if !ok {
		t.lastErr = "Invalid socket ID"
		return v, api.ErrInvalidHandle
	}
	delete(t.items, h)
	return v, nil
}

// Drain removes every entry and returns the values in handle order.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	hs := make([]api.Handle, 0, len(t.items))
	for h := range t.items {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	out := make([]T, 0, len(hs))
	for _, h := range hs {
		out = append(out, t.items[h])
	}
	t.items = make(map[api.Handle]T)
	return out
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Failf records a diagnostic for LastError and returns it.
func (t *Table[T]) Failf(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.lastErr = msg
	t.mu.Unlock()
	return msg
}

// LastError returns the most recent diagnostic, or "".
func (t *Table[T]) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}
