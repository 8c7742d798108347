// File: rpc/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher resolves a REQUEST against a DispatchTable, runs the stub under
// the object's priority policy and fills the reply PDU.

package rpc

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/internal/concurrency"
	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/momentics/hioload-rpc/protocol"
)

// PriorityPolicy adjusts the executing thread around a stub call. Modify
// returns a token handed back to Restore; ok=false means nothing changed and
// Restore is skipped.
type PriorityPolicy interface {
	Modify(clsid uuid.UUID) (token int, ok bool)
	Restore(token int)
}

// ThreadPriorityPolicy runs calls on objects of selected classes at a fixed
// nice value. The calling goroutine stays on its OS thread for the call.
type ThreadPriorityPolicy struct {
	mu         sync.RWMutex
	priorities map[uuid.UUID]int
	stranded   atomic.Int64
	log        *logrus.Entry
}

func NewThreadPriorityPolicy() *ThreadPriorityPolicy {
	return &ThreadPriorityPolicy{
		priorities: make(map[uuid.UUID]int),
		log:        logging.New("rpc").WithField("category", "priority"),
	}
}

// SetLogger replaces the policy's diagnostic logger.
func (p *ThreadPriorityPolicy) SetLogger(l *logrus.Entry) {
	p.log = l
}

// Stranded counts threads left locked because Restore failed.
func (p *ThreadPriorityPolicy) Stranded() int64 {
	return p.stranded.Load()
}

// Set assigns a nice value to calls on objects of class clsid.
func (p *ThreadPriorityPolicy) Set(clsid uuid.UUID, nice int) {
	p.mu.Lock()
	p.priorities[clsid] = nice
	p.mu.Unlock()
}

func (p *ThreadPriorityPolicy) Modify(clsid uuid.UUID) (int, bool) {
	p.mu.RLock()
	nice, ok := p.priorities[clsid]
	p.mu.RUnlock()
	if !ok {
		return 0, false
	}
	runtime.LockOSThread()
	prev, err := concurrency.ThreadPriority()
	if err == nil {
		err = concurrency.SetThreadPriority(nice)
	}
	if err != nil {
		runtime.UnlockOSThread()
		return 0, false
	}
	return prev, true
}

// Restore resets the nice value. A thread that cannot be restored, e.g. an
// unprivileged process lowering its nice value, stays locked to the
// goroutine and is discarded when the goroutine exits.
func (p *ThreadPriorityPolicy) Restore(prev int) {
	if err := concurrency.SetThreadPriority(prev); err != nil {
		n := p.stranded.Add(1)
		p.log.WithError(err).Debugf("nice %d not restored, thread stays locked (%d stranded)", prev, n)
		return
	}
	runtime.UnlockOSThread()
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPriorityPolicy brackets every stub call with policy.
func WithPriorityPolicy(policy PriorityPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = policy }
}

func WithDispatcherLogger(l *logrus.Entry) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

type Dispatcher struct {
	table  DispatchTable
	policy PriorityPolicy
	log    *logrus.Entry
}

func NewDispatcher(table DispatchTable, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{table: table}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = logging.New("dispatcher")
	}
	return d
}

// Table returns the dispatch table consulted on BIND and REQUEST.
func (d *Dispatcher) Table() DispatchTable { return d.table }

// Dispatch runs the REQUEST in req against interface iid and fills reply
// with a RESPONSE, or a FAULT when the stub returns a *Fault. Resolution
// failures and other stub errors are returned for the caller to answer.
func (d *Dispatcher) Dispatch(req, reply *protocol.PDU, channelID uint32, iid uuid.UUID) error {
	body, err := req.RequestBody()
	if err != nil {
		return err
	}
	stub, target, clsid, err := d.table.InterfaceInfo(iid, body.Object, body.Opnum)
	if err != nil {
		return err
	}
	call := &Call{
		Target:    target,
		IID:       iid,
		IPID:      body.Object,
		CLSID:     clsid,
		Opnum:     body.Opnum,
		ContextID: body.ContextID,
		DataRep:   req.DataRep(),
		StubData:  body.StubData,
		ChannelID: channelID,
	}
	out, err := d.invoke(stub, call)
	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			reply.SetFault(body.ContextID, f.Status)
			return nil
		}
		return fmt.Errorf("%s opnum %d: %w", iid, body.Opnum, err)
	}
	reply.SetResponse(body.ContextID, out)
	return nil
}

func (d *Dispatcher) invoke(stub StubFunc, call *Call) (out []byte, err error) {
	if d.policy != nil {
		if token, ok := d.policy.Modify(call.CLSID); ok {
			defer d.policy.Restore(token)
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithField("category", "stub").Errorf("stub panic on %s opnum %d: %v", call.IID, call.Opnum, rec)
			err = &Fault{Status: protocol.StatusFaultUnspec, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return stub(call)
}
