// File: reactor/handle_set.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HandleSet wraps the select(2) descriptor bitmap with cached count and
// maximum handle.

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// InvalidHandle marks an absent descriptor.
	InvalidHandle = -1
	// MaxHandles is the select(2) descriptor limit (FD_SETSIZE).
	MaxHandles = len(unix.FdSet{}.Bits) * nfdBits
	nfdBits    = int(unsafe.Sizeof(unix.FdSet{}.Bits[0])) * 8
)

// HandleSet is a bounded set of descriptors. count always equals the number
// of set bits and maxHandle is the largest set bit or InvalidHandle.
// A HandleSet is not safe for concurrent use.
type HandleSet struct {
	fds       unix.FdSet
	count     int
	maxHandle int
}

// NewHandleSet returns an empty set.
func NewHandleSet() HandleSet {
	return HandleSet{maxHandle: InvalidHandle}
}

func validHandle(h int) bool {
	return h >= 0 && h < MaxHandles
}

// Set adds h; invalid or already present handles are ignored.
func (s *HandleSet) Set(h int) {
	if !validHandle(h) || s.fds.IsSet(h) {
		return
	}
	s.fds.Set(h)
	s.count++
	if h > s.maxHandle {
		s.maxHandle = h
	}
}

// Clr removes h, rescanning for the new maximum when needed.
func (s *HandleSet) Clr(h int) {
	if !validHandle(h) || !s.fds.IsSet(h) {
		return
	}
	s.fds.Clear(h)
	s.count--
	if s.count == 0 {
		s.maxHandle = InvalidHandle
		return
	}
	if h == s.maxHandle {
		s.maxHandle = s.scanMax(h)
	}
}

func (s *HandleSet) scanMax(from int) int {
	for i := from; i >= 0; i-- {
		if s.fds.IsSet(i) {
			return i
		}
	}
	return InvalidHandle
}

func (s *HandleSet) IsSet(h int) bool {
	return validHandle(h) && s.fds.IsSet(h)
}

func (s *HandleSet) Count() int     { return s.count }
func (s *HandleSet) MaxHandle() int { return s.maxHandle }

// Reset empties the set.
func (s *HandleSet) Reset() {
	s.fds.Zero()
	s.count = 0
	s.maxHandle = InvalidHandle
}

// Sync rebuilds count and maxHandle from the bitmap over [0, n) after an
// external mutation such as select(2) clearing idle descriptors.
func (s *HandleSet) Sync(n int) {
	if n > MaxHandles {
		n = MaxHandles
	}
	s.count = 0
	s.maxHandle = InvalidHandle
	for i := 0; i < n; i++ {
		if s.fds.IsSet(i) {
			s.count++
			s.maxHandle = i
		}
	}
	// bits beyond n are dropped
	for i := n; i < MaxHandles; i++ {
		s.fds.Clear(i)
	}
}

// Clone returns an independent copy.
func (s *HandleSet) Clone() HandleSet {
	return *s
}

// FdSet exposes the bitmap for select(2).
func (s *HandleSet) FdSet() *unix.FdSet {
	return &s.fds
}

// Handles returns the set handles in ascending order.
func (s *HandleSet) Handles() []int {
	out := make([]int, 0, s.count)
	it := NewHandleSetIterator(s)
	for h, ok := it.Next(); ok; h, ok = it.Next() {
		out = append(out, h)
	}
	return out
}

// HandleSetIterator yields the handles of a set in ascending order, each once.
// It captures the count at construction; mutating the set while iterating is
// undefined, so callers iterate a snapshot.
type HandleSetIterator struct {
	set       *HandleSet
	remaining int
	next      int
}

func NewHandleSetIterator(s *HandleSet) *HandleSetIterator {
	return &HandleSetIterator{set: s, remaining: s.count}
}

// Next returns the next handle, or false once exhausted.
func (it *HandleSetIterator) Next() (int, bool) {
	for it.remaining > 0 && it.next < MaxHandles {
		h := it.next
		it.next++
		if it.set.fds.IsSet(h) {
			it.remaining--
			return h, true
		}
	}
	return InvalidHandle, false
}
