// File: protocol/builders.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound PDU constructors. Every constructor returns a single-fragment
// PDU in little-endian data representation; use SetDataRep to answer a
// peer in its own representation.

package protocol

import "github.com/google/uuid"

func NewBind(callID uint32, body BindBody) *PDU {
	return newOutbound(PtypeBind, callID, &body)
}

func NewAlterContext(callID uint32, body BindBody) *PDU {
	return newOutbound(PtypeAlterContext, callID, &body)
}

func NewBindAck(callID uint32, body BindAckBody) *PDU {
	return newOutbound(PtypeBindAck, callID, &body)
}

func NewAlterContextResp(callID uint32, body BindAckBody) *PDU {
	return newOutbound(PtypeAlterContextResp, callID, &body)
}

// NewBindNak rejects an association, advertising protocol version 5.0.
func NewBindNak(callID uint32, reason uint16) *PDU {
	return newOutbound(PtypeBindNak, callID, &BindNakBody{
		Reason:   reason,
		Versions: [][2]uint8{{rpcVersion, rpcVersionMinor}},
	})
}

// NewRequest builds a REQUEST. A non-nil object UUID sets PFC_OBJECT_UUID.
func NewRequest(callID uint32, ctxID, opnum uint16, object uuid.UUID, stub []byte) *PDU {
	p := newOutbound(PtypeRequest, callID, &RequestBody{
		AllocHint: uint32(len(stub)),
		ContextID: ctxID,
		Opnum:     opnum,
		Object:    object,
		StubData:  stub,
	})
	if object != uuid.Nil {
		p.hdr.Flags |= FlagObjectUUID
	}
	return p
}

func NewResponse(callID uint32, ctxID uint16, stub []byte) *PDU {
	p := &PDU{}
	p.SetResponse(ctxID, stub)
	p.hdr.CallID = callID
	return p
}

func NewFault(callID uint32, ctxID uint16, status uint32) *PDU {
	p := &PDU{}
	p.SetFault(ctxID, status)
	p.hdr.CallID = callID
	return p
}

// NewAuth3 builds the third leg of a three-way authentication handshake.
func NewAuth3(callID uint32, v *AuthVerifier) *PDU {
	p := newOutbound(PtypeAuth3, callID, auth3Body{})
	p.auth = v
	return p
}

// SetResponse turns p into an outbound RESPONSE carrying stub, keeping its
// call id, data representation and auth verifier.
func (p *PDU) SetResponse(ctxID uint16, stub []byte) {
	p.becomeOutbound(PtypeResponse, &ResponseBody{
		AllocHint: uint32(len(stub)),
		ContextID: ctxID,
		StubData:  stub,
	})
}

// SetFault turns p into an outbound FAULT with the given status.
func (p *PDU) SetFault(ctxID uint16, status uint32) {
	p.becomeOutbound(PtypeFault, &FaultBody{ContextID: ctxID, Status: status})
}

func (p *PDU) becomeOutbound(ptype uint8, body bodyEncoder) {
	drep, callID := p.hdr.DataRep, p.hdr.CallID
	if !p.outbound {
		drep = LittleEndianDrep
	}
	fresh := newOutbound(ptype, callID, body)
	fresh.hdr.DataRep = drep
	fresh.auth = p.auth
	*p = *fresh
}
