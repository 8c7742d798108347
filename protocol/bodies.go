// File: protocol/bodies.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed PDU bodies. Each body decodes from a complete inbound PDU and
// encodes itself for the outbound constructors in builders.go.

package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// PresentationContext is one p_cont_elem of a BIND or ALTER_CONTEXT.
type PresentationContext struct {
	ID               uint16
	AbstractSyntax   SyntaxID
	TransferSyntaxes []SyntaxID
}

// BindBody is the body of BIND and ALTER_CONTEXT.
type BindBody struct {
	MaxXmitFrag  uint16
	MaxRecvFrag  uint16
	AssocGroupID uint32
	Contexts     []PresentationContext
}

func (b *BindBody) encode(w *writer) {
	w.u16(b.MaxXmitFrag)
	w.u16(b.MaxRecvFrag)
	w.u32(b.AssocGroupID)
	w.u8(uint8(len(b.Contexts)))
	w.u8(0)
	w.u16(0)
	for _, c := range b.Contexts {
		w.u16(c.ID)
		w.u8(uint8(len(c.TransferSyntaxes)))
		w.u8(0)
		w.syntax(c.AbstractSyntax)
		for _, ts := range c.TransferSyntaxes {
			w.syntax(ts)
		}
	}
}

// BindBody decodes a BIND or ALTER_CONTEXT body.
func (p *PDU) BindBody() (*BindBody, error) {
	r, err := p.reader(PtypeBind, PtypeAlterContext)
	if err != nil {
		return nil, err
	}
	b := &BindBody{
		MaxXmitFrag:  r.u16(),
		MaxRecvFrag:  r.u16(),
		AssocGroupID: r.u32(),
	}
	n := int(r.u8())
	r.u8()
	r.u16()
	for i := 0; i < n && r.err == nil; i++ {
		c := PresentationContext{ID: r.u16()}
		nts := int(r.u8())
		r.u8()
		c.AbstractSyntax = r.syntax()
		for j := 0; j < nts && r.err == nil; j++ {
			c.TransferSyntaxes = append(c.TransferSyntaxes, r.syntax())
		}
		b.Contexts = append(b.Contexts, c)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", PtypeName(p.hdr.Type), r.err)
	}
	return b, nil
}

// ContextResult is one p_result of a BIND_ACK or ALTER_CONTEXT_RESP.
type ContextResult struct {
	Result         uint16
	Reason         uint16
	TransferSyntax SyntaxID
}

// BindAckBody is the body of BIND_ACK and ALTER_CONTEXT_RESP.
type BindAckBody struct {
	MaxXmitFrag   uint16
	MaxRecvFrag   uint16
	AssocGroupID  uint32
	SecondaryAddr string
	Results       []ContextResult
}

func (b *BindAckBody) encode(w *writer) {
	w.u16(b.MaxXmitFrag)
	w.u16(b.MaxRecvFrag)
	w.u32(b.AssocGroupID)
	if b.SecondaryAddr == "" {
		w.u16(0)
	} else {
		w.u16(uint16(len(b.SecondaryAddr) + 1))
		w.bytes([]byte(b.SecondaryAddr))
		w.u8(0)
	}
	w.align(4)
	w.u8(uint8(len(b.Results)))
	w.u8(0)
	w.u16(0)
	for _, res := range b.Results {
		w.u16(res.Result)
		w.u16(res.Reason)
		w.syntax(res.TransferSyntax)
	}
}

// BindAckBody decodes a BIND_ACK or ALTER_CONTEXT_RESP body.
func (p *PDU) BindAckBody() (*BindAckBody, error) {
	r, err := p.reader(PtypeBindAck, PtypeAlterContextResp)
	if err != nil {
		return nil, err
	}
	b := &BindAckBody{
		MaxXmitFrag:  r.u16(),
		MaxRecvFrag:  r.u16(),
		AssocGroupID: r.u32(),
	}
	if n := int(r.u16()); n > 0 {
		addr := r.take(n)
		if len(addr) > 0 && addr[len(addr)-1] == 0 {
			addr = addr[:len(addr)-1]
		}
		b.SecondaryAddr = string(addr)
	}
	r.align(4)
	n := int(r.u8())
	r.u8()
	r.u16()
	for i := 0; i < n && r.err == nil; i++ {
		b.Results = append(b.Results, ContextResult{
			Result:         r.u16(),
			Reason:         r.u16(),
			TransferSyntax: r.syntax(),
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", PtypeName(p.hdr.Type), r.err)
	}
	return b, nil
}

// BindNakBody is the body of BIND_NAK.
type BindNakBody struct {
	Reason   uint16
	Versions [][2]uint8
}

func (b *BindNakBody) encode(w *writer) {
	w.u16(b.Reason)
	w.u8(uint8(len(b.Versions)))
	for _, v := range b.Versions {
		w.u8(v[0])
		w.u8(v[1])
	}
	w.align(4)
}

// BindNakBody decodes a BIND_NAK body.
func (p *PDU) BindNakBody() (*BindNakBody, error) {
	r, err := p.reader(PtypeBindNak)
	if err != nil {
		return nil, err
	}
	b := &BindNakBody{Reason: r.u16()}
	// versions are optional on the wire
	if len(r.buf) > r.off {
		n := int(r.u8())
		for i := 0; i < n && r.err == nil; i++ {
			b.Versions = append(b.Versions, [2]uint8{r.u8(), r.u8()})
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("bind_nak: %w", r.err)
	}
	return b, nil
}

// RequestBody is the body of REQUEST. Object is uuid.Nil unless the
// PFC_OBJECT_UUID flag is set.
type RequestBody struct {
	AllocHint uint32
	ContextID uint16
	Opnum     uint16
	Object    uuid.UUID
	StubData  []byte
}

func (b *RequestBody) encode(w *writer) {
	w.u32(b.AllocHint)
	w.u16(b.ContextID)
	w.u16(b.Opnum)
	if b.Object != uuid.Nil {
		w.uuid(b.Object)
	}
	w.bytes(b.StubData)
}

// RequestBody decodes a REQUEST body.
func (p *PDU) RequestBody() (*RequestBody, error) {
	r, err := p.reader(PtypeRequest)
	if err != nil {
		return nil, err
	}
	b := &RequestBody{
		AllocHint: r.u32(),
		ContextID: r.u16(),
		Opnum:     r.u16(),
	}
	if p.hdr.Flags&FlagObjectUUID != 0 {
		b.Object = r.uuid()
	}
	b.StubData = r.rest()
	if r.err != nil {
		return nil, fmt.Errorf("request: %w", r.err)
	}
	return b, nil
}

// ResponseBody is the body of RESPONSE.
type ResponseBody struct {
	AllocHint   uint32
	ContextID   uint16
	CancelCount uint8
	StubData    []byte
}

func (b *ResponseBody) encode(w *writer) {
	w.u32(b.AllocHint)
	w.u16(b.ContextID)
	w.u8(b.CancelCount)
	w.u8(0)
	w.bytes(b.StubData)
}

// ResponseBody decodes a RESPONSE body.
func (p *PDU) ResponseBody() (*ResponseBody, error) {
	r, err := p.reader(PtypeResponse)
	if err != nil {
		return nil, err
	}
	b := &ResponseBody{
		AllocHint:   r.u32(),
		ContextID:   r.u16(),
		CancelCount: r.u8(),
	}
	r.u8()
	b.StubData = r.rest()
	if r.err != nil {
		return nil, fmt.Errorf("response: %w", r.err)
	}
	return b, nil
}

// FaultBody is the body of FAULT.
type FaultBody struct {
	AllocHint   uint32
	ContextID   uint16
	CancelCount uint8
	Status      uint32
}

func (b *FaultBody) encode(w *writer) {
	w.u32(b.AllocHint)
	w.u16(b.ContextID)
	w.u8(b.CancelCount)
	w.u8(0)
	w.u32(b.Status)
	w.u32(0)
}

// FaultBody decodes a FAULT body.
func (p *PDU) FaultBody() (*FaultBody, error) {
	r, err := p.reader(PtypeFault)
	if err != nil {
		return nil, err
	}
	b := &FaultBody{
		AllocHint:   r.u32(),
		ContextID:   r.u16(),
		CancelCount: r.u8(),
	}
	r.u8()
	b.Status = r.u32()
	if r.err != nil {
		return nil, fmt.Errorf("fault: %w", r.err)
	}
	return b, nil
}

// AuthVerifier is the sec_trailer plus auth_value carried at the end of a
// PDU when auth_length is non-zero.
type AuthVerifier struct {
	Type      uint8
	Level     uint8
	PadLength uint8
	ContextID uint32
	Value     []byte
}

// AuthVerifier decodes the auth trailer. It returns nil without error when
// the PDU carries none.
func (p *PDU) AuthVerifier() (*AuthVerifier, error) {
	if !p.Complete() {
		return nil, ErrIncomplete
	}
	if p.outbound {
		return p.auth, nil
	}
	if p.hdr.AuthLength == 0 {
		return nil, nil
	}
	start := int(p.hdr.FragLength) - int(p.hdr.AuthLength) - authTrailerSize
	r := &reader{buf: p.raw[start:], base: start, order: p.hdr.order()}
	v := &AuthVerifier{
		Type:      r.u8(),
		Level:     r.u8(),
		PadLength: r.u8(),
	}
	r.u8()
	v.ContextID = r.u32()
	v.Value = r.take(int(p.hdr.AuthLength))
	if r.err != nil {
		return nil, fmt.Errorf("auth trailer: %w", r.err)
	}
	return v, nil
}

// auth3Body is the four pad bytes AUTH3 carries before its trailer.
type auth3Body struct{}

func (auth3Body) encode(w *writer) { w.u32(0) }
