// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage.
type SyncPool[T any] struct {
	pool *sync.Pool
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// BufferPool hands out fixed-size byte buffers. Buffers travel as *[]byte
// so Put does not allocate.
type BufferPool struct {
	size int
	sp   *SyncPool[*[]byte]
}

// NewBufferPool returns a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		sp: NewSyncPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}),
	}
}

// Get returns a buffer of exactly Size bytes.
func (bp *BufferPool) Get() *[]byte {
	b := bp.sp.Get()
	*b = (*b)[:bp.size]
	return b
}

// Put recycles b. Buffers of a foreign capacity are dropped.
func (bp *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) < bp.size {
		return
	}
	bp.sp.Put(b)
}

func (bp *BufferPool) Size() int { return bp.size }

var _ ObjectPool[*[]byte] = (*BufferPool)(nil)
