// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrPoolClosed indicates the thread pool has been shut down
	ErrPoolClosed = errors.New("thread pool is closed")

	// ErrQueueClosed indicates an Add on a sealed task queue
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrPoolOpen indicates Open was called on a running pool
	ErrPoolOpen = errors.New("thread pool already open")

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = errors.New("invalid worker count")

	// ErrNilJob indicates an attempt to enqueue the shutdown sentinel as work
	ErrNilJob = errors.New("nil job")

	// ErrPriorityNotSupported indicates thread priorities are unavailable on this platform
	ErrPriorityNotSupported = errors.New("thread priority not supported")

	// ErrAffinityNotSupported indicates CPU pinning is unavailable on this platform
	ErrAffinityNotSupported = errors.New("cpu affinity not supported")

	// ErrInvalidCPU indicates a negative CPU index
	ErrInvalidCPU = errors.New("invalid cpu index")
)
