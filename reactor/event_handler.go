// File: reactor/event_handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventHandler contract and the embeddable BaseHandler defaults.

package reactor

import (
	"strings"
	"sync/atomic"
)

// EventMask selects the events a handler is registered for.
type EventMask uint32

const (
	NullMask    EventMask = 0
	ReadMask    EventMask = 1 << 0
	WriteMask   EventMask = 1 << 1
	ExceptMask  EventMask = 1 << 2
	AcceptMask  EventMask = 1 << 3
	ConnectMask EventMask = 1 << 4

	AllEventsMask = ReadMask | WriteMask | ExceptMask | AcceptMask | ConnectMask

	// DontCall suppresses HandleClose on removal.
	DontCall EventMask = 1 << 8

	// readClass events share the read set: a readable listening socket is
	// acceptable, a readable connecting socket is connected.
	readClass = ReadMask | AcceptMask | ConnectMask
)

func (m EventMask) String() string {
	if m == NullMask {
		return "none"
	}
	var parts []string
	for _, e := range []struct {
		bit  EventMask
		name string
	}{
		{ReadMask, "read"}, {WriteMask, "write"}, {ExceptMask, "except"},
		{AcceptMask, "accept"}, {ConnectMask, "connect"},
		{DontCall, "dont-call"},
	} {
		if m&e.bit != 0 {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, "|")
}

// NotImplemented is returned by every BaseHandler hook.
const NotImplemented = -1

// EventHandler is a source of I/O or timer events dispatched by a Reactor.
//
// HandleInput, HandleOutput and HandleException return a negative value to
// have the reactor unregister the handler and call HandleClose, or zero to
// continue. Positive values are reserved and treated as a bookkeeping bug.
// HandleTimeout returns a negative value to cancel its timer.
//
// HandleClose is the single terminal hook: it receives the handle and the
// mask being removed and releases the handler's resources. The reactor does
// not touch the handler after calling it.
type EventHandler interface {
	Handle() int
	HandleInput(handle int) int
	HandleOutput(handle int) int
	HandleException(handle int) int
	HandleTimeout(interval TimeValue) int
	HandleClose(handle int, mask EventMask) int

	Reactor() *Reactor
	SetReactor(r *Reactor)
}

// BaseHandler provides "not implemented" defaults; embed it and override the
// hooks a concrete handler needs.
type BaseHandler struct {
	reactor atomic.Pointer[Reactor]
	handle  atomic.Int64
	valid   atomic.Bool
}

func (b *BaseHandler) Handle() int {
	if !b.valid.Load() {
		return InvalidHandle
	}
	return int(b.handle.Load())
}

// SetHandle records the handle returned by Handle.
func (b *BaseHandler) SetHandle(h int) {
	b.handle.Store(int64(h))
	b.valid.Store(h != InvalidHandle)
}

func (b *BaseHandler) HandleInput(int) int            { return NotImplemented }
func (b *BaseHandler) HandleOutput(int) int           { return NotImplemented }
func (b *BaseHandler) HandleException(int) int        { return NotImplemented }
func (b *BaseHandler) HandleTimeout(TimeValue) int    { return NotImplemented }
func (b *BaseHandler) HandleClose(int, EventMask) int { return NotImplemented }
func (b *BaseHandler) Reactor() *Reactor              { return b.reactor.Load() }
func (b *BaseHandler) SetReactor(r *Reactor)          { b.reactor.Store(r) }
