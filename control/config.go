// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-safe store of runtime-tunable settings with change propagation.

package control

import (
	"reflect"
	"sync"
)

// ConfigStore is a key/value map of settings that may change while a node
// runs. Listeners receive only the keys whose values changed.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func(changed map[string]any)
}

// NewConfigStore initializes a store seeded with initial.
func NewConfigStore(initial map[string]any) *ConfigStore {
	cs := &ConfigStore{config: make(map[string]any, len(initial))}
	for k, v := range initial {
		cs.config[k] = v
	}
	return cs
}

// Get returns the current value of key.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// GetSnapshot returns a copy of all values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges values and returns the subset that changed. Listeners run
// synchronously on the caller's goroutine, outside the lock, and only when
// something changed.
func (cs *ConfigStore) SetConfig(values map[string]any) map[string]any {
	cs.mu.Lock()
	changed := make(map[string]any)
	for k, v := range values {
		if old, ok := cs.config[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		cs.config[k] = v
		changed[k] = v
	}
	listeners := cs.listeners
	cs.mu.Unlock()

	if len(changed) == 0 {
		return changed
	}
	for _, fn := range listeners {
		fn(changed)
	}
	return changed
}

// OnReload registers a listener called after each effective change.
func (cs *ConfigStore) OnReload(fn func(changed map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners[:len(cs.listeners):len(cs.listeners)], fn)
}
