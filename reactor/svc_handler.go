// File: reactor/svc_handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SvcHandler: an EventHandler wrapping one connected stream.

package reactor

import (
	"sync"

	"github.com/momentics/hioload-rpc/api"
)

// ServiceHandler is what Acceptor and Connector manufacture and activate.
type ServiceHandler interface {
	EventHandler
	// Open is called right after the stream is attached; arg is the
	// acceptor or connector that produced the handler.
	Open(arg any) error
	SetStream(s api.Stream)
	Stream() api.Stream
}

// SvcHandler is embedded by per-connection handlers. The embedding type must
// call Init with itself so Shutdown can unregister the outer value.
type SvcHandler struct {
	BaseHandler

	mu        sync.Mutex
	stream    api.Stream
	self      EventHandler
	destroyed bool
}

// Init records the outer handler registered with the reactor.
func (s *SvcHandler) Init(self EventHandler) {
	s.self = self
}

func (s *SvcHandler) SetStream(st api.Stream) {
	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()
}

func (s *SvcHandler) Stream() api.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Handle returns the stream's descriptor.
func (s *SvcHandler) Handle() int {
	st := s.Stream()
	if st == nil {
		return InvalidHandle
	}
	return st.Handle()
}

// Open is a placeholder for embedding types.
func (s *SvcHandler) Open(any) error {
	return nil
}

// HandleClose closes the stream and destroys the handler.
func (s *SvcHandler) HandleClose(int, EventMask) int {
	s.Destroy()
	return 0
}

// Destroy closes the stream once. It reports whether this call did the work.
func (s *SvcHandler) Destroy() bool {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return false
	}
	s.destroyed = true
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		_ = st.Close()
	}
	return true
}

// Destroyed reports whether Destroy has run.
func (s *SvcHandler) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Shutdown unregisters the handler without HandleClose and closes the stream,
// forcing teardown ahead of any close event.
func (s *SvcHandler) Shutdown() {
	if r := s.Reactor(); r != nil && s.self != nil {
		_ = r.HandlerRemove(s.self, AllEventsMask|DontCall)
		_ = r.TimerRemove(s.self)
	}
	s.Destroy()
}
