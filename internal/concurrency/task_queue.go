// File: internal/concurrency/task_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TaskQueue is a bounded FIFO with blocking Add/Remove on top of the
// eapache ring-buffer deque.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskQueue holds at most MaxLen items. Add blocks while full and Remove
// blocks while empty. Items are not owned by the queue.
//
// Close seals the queue: producers, including blocked ones, get
// ErrQueueClosed and consumers get the zero T once nothing is left.
type TaskQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    *queue.Queue
	maxLen   int
	onFull   func() bool
	closed   bool
}

// NewTaskQueue returns a queue bounded by maxLen (at least 1).
func NewTaskQueue[T any](maxLen int) *TaskQueue[T] {
	if maxLen < 1 {
		maxLen = 1
	}
	q := &TaskQueue[T]{items: queue.New(), maxLen: maxLen}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// SetFullHandler installs a hook consulted, outside the queue lock, each
// time a producer finds the queue full and before it blocks. The hook
// reports whether it added consumer capacity.
func (q *TaskQueue[T]) SetFullHandler(fn func() bool) {
	q.mu.Lock()
	q.onFull = fn
	q.mu.Unlock()
}

// Add enqueues item, blocking while the queue is full.
func (q *TaskQueue[T]) Add(item T) error {
	q.mu.Lock()
	consulted := false
	for !q.closed && q.items.Length() >= q.maxLen {
		if fn := q.onFull; fn != nil && !consulted {
			consulted = true
			q.mu.Unlock()
			fn()
			q.mu.Lock()
			continue
		}
		q.notFull.Wait()
	}
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items.Add(item)
	q.mu.Unlock()
	q.notEmpty.Signal()
	return nil
}

// TryAdd enqueues item unless the queue is full or closed.
func (q *TaskQueue[T]) TryAdd(item T) bool {
	q.mu.Lock()
	if q.closed || q.items.Length() >= q.maxLen {
		q.mu.Unlock()
		return false
	}
	q.items.Add(item)
	q.mu.Unlock()
	q.notEmpty.Signal()
	return true
}

// Remove dequeues the oldest item, blocking while the queue is empty. A
// closed, empty queue returns the zero T.
func (q *TaskQueue[T]) Remove() T {
	q.mu.Lock()
	for q.items.Length() == 0 {
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero
		}
		q.notEmpty.Wait()
	}
	item, _ := q.items.Remove().(T) // nil interface items come back as the zero T
	q.mu.Unlock()
	q.notFull.Signal()
	return item
}

// RemoveAll drains the queue without blocking.
func (q *TaskQueue[T]) RemoveAll() []T {
	q.mu.Lock()
	out := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		item, _ := q.items.Remove().(T)
		out = append(out, item)
	}
	q.mu.Unlock()
	q.notFull.Broadcast()
	return out
}

// Close seals the queue and returns the items nobody removed. Only the
// first call drains.
func (q *TaskQueue[T]) Close() []T {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	out := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		item, _ := q.items.Remove().(T)
		out = append(out, item)
	}
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	return out
}

// Closed reports whether Close has been called.
func (q *TaskQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *TaskQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *TaskQueue[T]) MaxLen() int {
	return q.maxLen
}

// Full reports whether Add would block.
func (q *TaskQueue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length() >= q.maxLen
}
