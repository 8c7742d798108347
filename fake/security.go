// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-rpc/protocol"
	"github.com/momentics/hioload-rpc/rpc"
)

// SecurityProvider records the calls it receives and fails the stages whose
// error field is set.
type SecurityProvider struct {
	mu         sync.Mutex
	channels   map[uint32]bool
	calls      []string
	AddErr     error
	BindErr    error
	RequestErr error
	Auth3Err   error
}

func NewSecurityProvider() *SecurityProvider {
	return &SecurityProvider{channels: make(map[uint32]bool)}
}

func (s *SecurityProvider) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *SecurityProvider) ChannelAdd(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("add")
	if s.AddErr != nil {
		return s.AddErr
	}
	s.channels[id] = true
	return nil
}

func (s *SecurityProvider) ChannelRemove(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remove")
	delete(s.channels, id)
}

func (s *SecurityProvider) ServerBindValidate(uint32, *protocol.PDU, *protocol.PDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("bind")
	return s.BindErr
}

func (s *SecurityProvider) ServerRequestValidate(uint32, *protocol.PDU, *protocol.PDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("request")
	return s.RequestErr
}

func (s *SecurityProvider) ServerAuth3Validate(uint32, *protocol.PDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("auth3")
	return s.Auth3Err
}

// Calls returns the recorded call names in order.
func (s *SecurityProvider) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Open reports whether channel id is currently registered.
func (s *SecurityProvider) Open(id uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[id]
}

var _ rpc.SecurityProvider = (*SecurityProvider)(nil)
