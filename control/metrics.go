// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector. Counters are lock-free once created; gauges and
// other values go through Set.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names maintained by the RPC layer.
const (
	MetricConnections       = "connections.accepted"
	MetricConnectionsActive = "connections.active"
	MetricPDUsIn            = "pdu.received"
	MetricPDUsOut           = "pdu.sent"
	MetricBinds             = "bind.acked"
	MetricBindNaks          = "bind.nakked"
	MetricRequests          = "request.dispatched"
	MetricFaults            = "request.faulted"
	MetricProtocolErrors    = "protocol.errors"
)

// MetricsRegistry holds counters and arbitrary values.
type MetricsRegistry struct {
	mu       sync.RWMutex
	metrics  map[string]any
	counters map[string]*atomic.Int64
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics:  make(map[string]any),
		counters: make(map[string]*atomic.Int64),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

func (mr *MetricsRegistry) counter(key string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = new(atomic.Int64)
		mr.counters[key] = c
	}
	return c
}

// Add adds delta to a counter and returns the new value. A nil registry
// discards the update.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	if mr == nil {
		return 0
	}
	return mr.counter(key).Add(delta)
}

// Inc increments a counter by one.
func (mr *MetricsRegistry) Inc(key string) int64 {
	return mr.Add(key, 1)
}

// Counter returns the current value of a counter, zero if never touched.
func (mr *MetricsRegistry) Counter(key string) int64 {
	if mr == nil {
		return 0
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// GetSnapshot returns the latest values and counters in one map.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics)+len(mr.counters))
	for k, v := range mr.metrics {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}

// Updated reports when Set was last called.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
