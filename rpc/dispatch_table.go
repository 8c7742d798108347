// File: rpc/dispatch_table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interface and object registry consulted by the dispatcher.

package rpc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/hioload-rpc/api"
)

// Call is what a stub receives for one REQUEST.
type Call struct {
	Target    any
	IID       uuid.UUID
	IPID      uuid.UUID
	CLSID     uuid.UUID
	Opnum     uint16
	ContextID uint16
	DataRep   [4]byte
	StubData  []byte
	ChannelID uint32
}

// StubFunc unmarshals a call, invokes the target and returns the marshalled
// reply. Returning a *Fault answers with a FAULT PDU.
type StubFunc func(call *Call) ([]byte, error)

// DispatchTable resolves interfaces and objects for the dispatcher.
type DispatchTable interface {
	// SupportsInterface reports whether BIND may accept iid.
	SupportsInterface(iid uuid.UUID) bool
	// InterfaceInfo resolves the stub for opnum on iid and the object behind
	// ipid, returning the stub, the target and the object's CLSID.
	InterfaceInfo(iid, ipid uuid.UUID, opnum uint16) (StubFunc, any, uuid.UUID, error)
}

type objectKey struct {
	ipid uuid.UUID
	iid  uuid.UUID
}

type object struct {
	clsid  uuid.UUID
	target any
}

// Registry is the in-memory DispatchTable. Objects registered under
// uuid.Nil serve requests that carry no object UUID.
type Registry struct {
	mu      sync.RWMutex
	ifaces  map[uuid.UUID][]StubFunc
	objects map[objectKey]object
}

func NewRegistry() *Registry {
	return &Registry{
		ifaces:  make(map[uuid.UUID][]StubFunc),
		objects: make(map[objectKey]object),
	}
}

// RegisterInterface installs the stub vector for iid; index is opnum.
func (r *Registry) RegisterInterface(iid uuid.UUID, stubs []StubFunc) error {
	if iid == uuid.Nil || len(stubs) == 0 {
		return api.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ifaces[iid]; ok {
		return fmt.Errorf("interface %s: %w", iid, api.ErrAlreadyExists)
	}
	r.ifaces[iid] = append([]StubFunc(nil), stubs...)
	return nil
}

// UnregisterInterface removes iid and every object exported on it.
func (r *Registry) UnregisterInterface(iid uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ifaces, iid)
	for k := range r.objects {
		if k.iid == iid {
			delete(r.objects, k)
		}
	}
}

// RegisterObject exports target on iid under ipid.
func (r *Registry) RegisterObject(ipid, iid, clsid uuid.UUID, target any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ifaces[iid]; !ok {
		return fmt.Errorf("object %s: %w", ipid, ErrUnknownInterface)
	}
	k := objectKey{ipid: ipid, iid: iid}
	if _, ok := r.objects[k]; ok {
		return fmt.Errorf("object %s on %s: %w", ipid, iid, api.ErrAlreadyExists)
	}
	r.objects[k] = object{clsid: clsid, target: target}
	return nil
}

// UnregisterObject removes ipid from every interface and reports whether it
// was present.
func (r *Registry) UnregisterObject(ipid uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for k := range r.objects {
		if k.ipid == ipid {
			delete(r.objects, k)
			found = true
		}
	}
	return found
}

func (r *Registry) SupportsInterface(iid uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ifaces[iid]
	return ok
}

func (r *Registry) InterfaceInfo(iid, ipid uuid.UUID, opnum uint16) (StubFunc, any, uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stubs, ok := r.ifaces[iid]
	if !ok {
		return nil, nil, uuid.Nil, fmt.Errorf("%s: %w", iid, ErrUnknownInterface)
	}
	if int(opnum) >= len(stubs) || stubs[opnum] == nil {
		return nil, nil, uuid.Nil, fmt.Errorf("%s opnum %d: %w", iid, opnum, ErrOpnumRange)
	}
	obj, ok := r.objects[objectKey{ipid: ipid, iid: iid}]
	if !ok {
		return nil, nil, uuid.Nil, fmt.Errorf("%s on %s: %w", ipid, iid, ErrUnknownObject)
	}
	return stubs[opnum], obj.target, obj.clsid, nil
}

var _ DispatchTable = (*Registry)(nil)
