// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/hioload-rpc/rpc"
)

// Lookup is one InterfaceInfo call seen by DispatchTable.
type Lookup struct {
	IID   uuid.UUID
	IPID  uuid.UUID
	Opnum uint16
}

// DispatchTable supports a fixed set of interfaces and records every
// lookup. Stub returns the reply for all resolved calls; by default it
// echoes the request stub data.
type DispatchTable struct {
	mu        sync.Mutex
	supported map[uuid.UUID]bool
	lookups   []Lookup
	LookupErr error
	Target    any
	CLSID     uuid.UUID
	Stub      rpc.StubFunc
}

func NewDispatchTable(iids ...uuid.UUID) *DispatchTable {
	t := &DispatchTable{supported: make(map[uuid.UUID]bool)}
	for _, iid := range iids {
		t.supported[iid] = true
	}
	t.Stub = func(c *rpc.Call) ([]byte, error) { return c.StubData, nil }
	return t
}

func (t *DispatchTable) SupportsInterface(iid uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supported[iid]
}

func (t *DispatchTable) InterfaceInfo(iid, ipid uuid.UUID, opnum uint16) (rpc.StubFunc, any, uuid.UUID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups = append(t.lookups, Lookup{IID: iid, IPID: ipid, Opnum: opnum})
	if t.LookupErr != nil {
		return nil, nil, uuid.Nil, t.LookupErr
	}
	return t.Stub, t.Target, t.CLSID, nil
}

// Lookups returns the recorded InterfaceInfo calls.
func (t *DispatchTable) Lookups() []Lookup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Lookup(nil), t.lookups...)
}

var _ rpc.DispatchTable = (*DispatchTable)(nil)
