// File: reactor/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor multiplexes a listening socket and spawns one service handler per
// accepted connection.

package reactor

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-rpc/api"
)

// PeerAcceptor is a passive-mode socket factory.
type PeerAcceptor interface {
	Handle() int
	// Accept returns api.ErrWouldBlock when no connection is pending.
	Accept() (api.Stream, error)
	Close() error
	Addr() string
}

// Acceptor is closed until Open registers it for AcceptMask; each readiness
// event makes, accepts and activates one handler. The acceptor never reads
// application data.
//
// The three steps are overridable through the exported hook fields.
type Acceptor[H ServiceHandler] struct {
	BaseHandler

	peer PeerAcceptor

	MakeSvcHandler     func() (H, error)
	AcceptSvcHandler   func(h H) error
	ActivateSvcHandler func(h H) error
	// OnError observes failures of the three steps; nil discards them.
	OnError func(stage string, err error)
}

// NewAcceptor returns an acceptor whose default factory calls newFn.
func NewAcceptor[H ServiceHandler](newFn func() H) *Acceptor[H] {
	a := &Acceptor[H]{}
	a.MakeSvcHandler = func() (H, error) { return newFn(), nil }
	a.AcceptSvcHandler = a.defaultAccept
	a.ActivateSvcHandler = a.defaultActivate
	return a
}

// Open registers the listening peer with r.
func (a *Acceptor[H]) Open(peer PeerAcceptor, r *Reactor) error {
	if peer == nil || r == nil {
		return api.ErrInvalidArgument
	}
	a.peer = peer
	a.SetReactor(r)
	if err := r.HandlerAdd(a, AcceptMask); err != nil {
		return fmt.Errorf("acceptor open %s: %w", peer.Addr(), err)
	}
	return nil
}

// Peer returns the listening socket.
func (a *Acceptor[H]) Peer() PeerAcceptor {
	return a.peer
}

func (a *Acceptor[H]) Handle() int {
	if a.peer == nil {
		return InvalidHandle
	}
	return a.peer.Handle()
}

// HandleInput accepts one pending connection. Per-connection failures are
// reported and the acceptor keeps listening.
func (a *Acceptor[H]) HandleInput(int) int {
	h, err := a.MakeSvcHandler()
	if err != nil {
		a.report("make", err)
		return 0
	}
	if err := a.AcceptSvcHandler(h); err != nil {
		if !errors.Is(err, api.ErrWouldBlock) {
			a.report("accept", err)
		}
		return 0
	}
	if err := a.ActivateSvcHandler(h); err != nil {
		a.report("activate", err)
		h.HandleClose(h.Handle(), NullMask)
	}
	return 0
}

func (a *Acceptor[H]) defaultAccept(h H) error {
	st, err := a.peer.Accept()
	if err != nil {
		return err
	}
	h.SetStream(st)
	h.SetReactor(a.Reactor())
	return nil
}

func (a *Acceptor[H]) defaultActivate(h H) error {
	return h.Open(a)
}

func (a *Acceptor[H]) report(stage string, err error) {
	if a.OnError != nil {
		a.OnError(stage, err)
	}
}

// HandleClose releases the listening socket once the reactor drops it.
func (a *Acceptor[H]) HandleClose(int, EventMask) int {
	if a.peer != nil {
		_ = a.peer.Close()
	}
	return 0
}

// Close unregisters the acceptor and closes the listening socket.
func (a *Acceptor[H]) Close() error {
	r := a.Reactor()
	if r != nil {
		if err := r.HandlerRemove(a, AcceptMask); err == nil {
			return nil
		}
	}
	if a.peer != nil {
		return a.peer.Close()
	}
	return nil
}
