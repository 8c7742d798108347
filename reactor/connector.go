// File: reactor/connector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connector performs active-open and activates the resulting service handler.

package reactor

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-rpc/api"
)

// PeerConnector is an active-mode socket factory.
type PeerConnector interface {
	Connect(addr string) (api.Stream, error)
}

// Connector mirrors Acceptor for outgoing connections. Connects are
// synchronous.
type Connector[H ServiceHandler] struct {
	peer    PeerConnector
	reactor *Reactor
	newFn   func() H
	closing atomic.Bool

	ConnectSvcHandler  func(h H, addr string) error
	ActivateSvcHandler func(h H) error
}

// NewConnector builds a connector whose handlers are attached to r.
func NewConnector[H ServiceHandler](peer PeerConnector, r *Reactor, newFn func() H) *Connector[H] {
	c := &Connector[H]{peer: peer, reactor: r, newFn: newFn}
	c.ConnectSvcHandler = c.defaultConnect
	c.ActivateSvcHandler = func(h H) error { return h.Open(c) }
	return c
}

// Connect creates a handler and connects it to addr.
func (c *Connector[H]) Connect(addr string) (H, error) {
	h := c.newFn()
	return h, c.ConnectHandler(addr, h)
}

// ConnectHandler connects a caller-supplied handler to addr.
func (c *Connector[H]) ConnectHandler(addr string, h H) error {
	if c.closing.Load() {
		return api.ErrClosed
	}
	if err := c.ConnectSvcHandler(h, addr); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	if err := c.ActivateSvcHandler(h); err != nil {
		h.HandleClose(h.Handle(), NullMask)
		return fmt.Errorf("activate %s: %w", addr, err)
	}
	return nil
}

func (c *Connector[H]) defaultConnect(h H, addr string) error {
	st, err := c.peer.Connect(addr)
	if err != nil {
		return err
	}
	h.SetStream(st)
	if c.reactor != nil {
		h.SetReactor(c.reactor)
	}
	return nil
}

// Reactor returns the reactor new handlers are bound to.
func (c *Connector[H]) Reactor() *Reactor {
	return c.reactor
}

// Close stops further connects. Repeated calls are no-ops.
func (c *Connector[H]) Close() error {
	c.closing.CompareAndSwap(false, true)
	return nil
}
