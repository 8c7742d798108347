// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime settings shared by the server and its operators. Values are merged
// in batches; listeners see only the keys a batch actually changed.

package control

import (
	"sync"
)

// ConfigStore is a mutex-guarded settings map with change listeners.
type ConfigStore struct {
	mu        sync.RWMutex
	values    map[string]any
	listeners []func(changed map[string]any)
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: make(map[string]any)}
}

// GetSnapshot copies every setting.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	snap := make(map[string]any, len(cs.values))
	for k, v := range cs.values {
		snap[k] = v
	}
	cs.mu.RUnlock()
	return snap
}

func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	v, ok := cs.values[key]
	cs.mu.RUnlock()
	return v, ok
}

// String returns key as a string, or def when unset or of another type.
func (cs *ConfigStore) String(key, def string) string {
	if v, ok := cs.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns key as an int, or def when unset or of another type.
func (cs *ConfigStore) Int(key string, def int) int {
	if v, ok := cs.Get(key); ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

// SetConfig merges batch and calls the listeners with the changed subset.
// Listeners run synchronously on the caller's goroutine without the lock.
func (cs *ConfigStore) SetConfig(batch map[string]any) {
	changed := make(map[string]any)

	cs.mu.Lock()
	for k, v := range batch {
		if cur, ok := cs.values[k]; ok && cur == v {
			continue
		}
		cs.values[k] = v
		changed[k] = v
	}
	notify := make([]func(map[string]any), len(cs.listeners))
	copy(notify, cs.listeners)
	cs.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, fn := range notify {
		fn(changed)
	}
}

// OnReload subscribes fn to future changes.
func (cs *ConfigStore) OnReload(fn func(changed map[string]any)) {
	cs.mu.Lock()
	cs.listeners = append(cs.listeners, fn)
	cs.mu.Unlock()
}
