// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes evaluated on demand for state dumps (connection counts, pool
// size, descriptor limits).

package control

import (
	"fmt"
	"sort"
	"sync"
)

// DebugProbes maps probe names to functions sampled at dump time.
type DebugProbes struct {
	mu  sync.RWMutex
	fns map[string]func() any
}

func NewDebugProbes() *DebugProbes {
	return &DebugProbes{fns: make(map[string]func() any)}
}

// RegisterProbe inserts or replaces a named probe. A nil fn removes it.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	if fn == nil {
		delete(dp.fns, name)
	} else {
		dp.fns[name] = fn
	}
	dp.mu.Unlock()
}

// Names lists the registered probes in order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.fns))
	for name := range dp.fns {
		names = append(names, name)
	}
	dp.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DumpState samples every probe outside the registry lock. A probe that
// panics reports the panic as its value.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	fns := make(map[string]func() any, len(dp.fns))
	for name, fn := range dp.fns {
		fns[name] = fn
	}
	dp.mu.RUnlock()

	state := make(map[string]any, len(fns))
	for name, fn := range fns {
		state[name] = sample(fn)
	}
	return state
}

func sample(fn func() any) (v any) {
	defer func() {
		if rec := recover(); rec != nil {
			v = fmt.Errorf("probe panicked: %v", rec)
		}
	}()
	return fn()
}
