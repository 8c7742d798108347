// File: protocol/pdu.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PDU accumulates one connection-oriented PDU from a byte stream, or holds
// an outbound PDU built by one of the New* constructors.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrBadVersion reports a header whose rpc_vers is not 5.
	ErrBadVersion = errors.New("protocol: unsupported rpc version")
	// ErrBadFragLength reports a frag_length shorter than the header or
	// too short to hold the declared auth trailer.
	ErrBadFragLength = errors.New("protocol: invalid frag_length")
	// ErrIncomplete reports a decode attempt on a partially received PDU.
	ErrIncomplete = errors.New("protocol: pdu incomplete")
	// ErrWrongType reports a body decoder applied to another PDU type.
	ErrWrongType = errors.New("protocol: unexpected pdu type")
	// ErrTooLarge reports an outbound PDU that does not fit in one fragment.
	ErrTooLarge = errors.New("protocol: pdu exceeds maximum fragment length")
)

// Header is the 16-byte common header.
type Header struct {
	Version      uint8
	VersionMinor uint8
	Type         uint8
	Flags        uint8
	DataRep      [4]byte
	FragLength   uint16
	AuthLength   uint16
	CallID       uint32
}

func (h *Header) order() binary.ByteOrder { return ByteOrder(h.DataRep) }

func decodeHeader(b []byte) Header {
	h := Header{
		Version:      b[0],
		VersionMinor: b[1],
		Type:         b[2],
		Flags:        b[3],
	}
	copy(h.DataRep[:], b[4:8])
	o := h.order()
	h.FragLength = o.Uint16(b[8:10])
	h.AuthLength = o.Uint16(b[10:12])
	h.CallID = o.Uint32(b[12:16])
	return h
}

func (h *Header) put(b []byte) {
	b[0], b[1], b[2], b[3] = h.Version, h.VersionMinor, h.Type, h.Flags
	copy(b[4:8], h.DataRep[:])
	o := h.order()
	o.PutUint16(b[8:10], h.FragLength)
	o.PutUint16(b[10:12], h.AuthLength)
	o.PutUint32(b[12:16], h.CallID)
}

// bodyEncoder writes a PDU body after the header placeholder.
type bodyEncoder interface {
	encode(w *writer)
}

// PDU is either an inbound PDU being accumulated with Append or an
// outbound PDU produced by a constructor. The zero value is an empty
// inbound PDU.
type PDU struct {
	hdr      Header
	raw      []byte
	err      error
	body     bodyEncoder
	auth     *AuthVerifier
	outbound bool
}

// Append consumes at most the bytes needed to complete the current PDU and
// returns how many it took. It takes nothing once the PDU is complete or
// after a malformed header, which Err then reports.
func (p *PDU) Append(b []byte) int {
	if p.err != nil || p.outbound || p.Complete() {
		return 0
	}
	consumed := 0
	if len(p.raw) < HeaderSize {
		n := min(HeaderSize-len(p.raw), len(b))
		p.raw = append(p.raw, b[:n]...)
		consumed += n
		b = b[n:]
		if len(p.raw) < HeaderSize {
			return consumed
		}
		p.hdr = decodeHeader(p.raw)
		if err := p.validate(); err != nil {
			p.err = err
			return consumed
		}
	}
	n := min(int(p.hdr.FragLength)-len(p.raw), len(b))
	p.raw = append(p.raw, b[:n]...)
	return consumed + n
}

func (p *PDU) validate() error {
	if p.hdr.Version != rpcVersion {
		return fmt.Errorf("%w: %d.%d", ErrBadVersion, p.hdr.Version, p.hdr.VersionMinor)
	}
	if p.hdr.FragLength < HeaderSize {
		return fmt.Errorf("%w: %d", ErrBadFragLength, p.hdr.FragLength)
	}
	if p.hdr.AuthLength > 0 && int(p.hdr.FragLength) < HeaderSize+authTrailerSize+int(p.hdr.AuthLength) {
		return fmt.Errorf("%w: %d with auth_length %d", ErrBadFragLength, p.hdr.FragLength, p.hdr.AuthLength)
	}
	return nil
}

// Complete reports whether the PDU holds a whole fragment.
func (p *PDU) Complete() bool {
	if p.outbound {
		return true
	}
	return p.err == nil && len(p.raw) >= HeaderSize && len(p.raw) == int(p.hdr.FragLength)
}

// Err returns the framing error that stopped accumulation, if any.
func (p *PDU) Err() error { return p.err }

// Reset empties the PDU for the next inbound fragment, keeping its buffer.
func (p *PDU) Reset() {
	raw := p.raw[:0]
	*p = PDU{raw: raw}
}

// Len returns the number of bytes accumulated so far.
func (p *PDU) Len() int { return len(p.raw) }

// Bytes returns the accumulated bytes of an inbound PDU, or the last
// marshalled form of an outbound one.
func (p *PDU) Bytes() []byte { return p.raw }

func (p *PDU) Header() Header      { return p.hdr }
func (p *PDU) Type() uint8         { return p.hdr.Type }
func (p *PDU) Flags() uint8        { return p.hdr.Flags }
func (p *PDU) DataRep() [4]byte    { return p.hdr.DataRep }
func (p *PDU) FragLength() uint16  { return p.hdr.FragLength }
func (p *PDU) AuthLength() uint16  { return p.hdr.AuthLength }
func (p *PDU) CallID() uint32      { return p.hdr.CallID }
func (p *PDU) SetCallID(id uint32) { p.hdr.CallID = id }

// SetDataRep selects the data representation Marshal encodes with.
func (p *PDU) SetDataRep(drep [4]byte) { p.hdr.DataRep = drep }

// SetFlags replaces the pfc_flags of an outbound PDU.
func (p *PDU) SetFlags(f uint8) { p.hdr.Flags = f }

func (p *PDU) IsRequest() bool          { return p.hdr.Type == PtypeRequest }
func (p *PDU) IsResponse() bool         { return p.hdr.Type == PtypeResponse }
func (p *PDU) IsFault() bool            { return p.hdr.Type == PtypeFault }
func (p *PDU) IsBind() bool             { return p.hdr.Type == PtypeBind }
func (p *PDU) IsBindAck() bool          { return p.hdr.Type == PtypeBindAck }
func (p *PDU) IsBindNak() bool          { return p.hdr.Type == PtypeBindNak }
func (p *PDU) IsAlterContext() bool     { return p.hdr.Type == PtypeAlterContext }
func (p *PDU) IsAlterContextResp() bool { return p.hdr.Type == PtypeAlterContextResp }
func (p *PDU) IsAuth3() bool            { return p.hdr.Type == PtypeAuth3 }

func (p *PDU) String() string {
	return fmt.Sprintf("%s call=%d len=%d", PtypeName(p.hdr.Type), p.hdr.CallID, p.hdr.FragLength)
}

// SetAuthVerifier attaches an auth trailer to an outbound PDU. A nil
// verifier removes it.
func (p *PDU) SetAuthVerifier(v *AuthVerifier) { p.auth = v }

// Marshal encodes an outbound PDU in its current data representation,
// filling in frag_length, auth_length and the trailer padding.
func (p *PDU) Marshal() ([]byte, error) {
	if !p.outbound {
		if !p.Complete() {
			return nil, ErrIncomplete
		}
		return p.raw, nil
	}
	w := &writer{buf: make([]byte, HeaderSize, 64), order: p.hdr.order()}
	if p.body != nil {
		p.body.encode(w)
	}
	p.hdr.AuthLength = 0
	if p.auth != nil {
		pad := w.align(4)
		w.u8(p.auth.Type)
		w.u8(p.auth.Level)
		w.u8(uint8(pad))
		w.u8(0)
		w.u32(p.auth.ContextID)
		w.bytes(p.auth.Value)
		p.hdr.AuthLength = uint16(len(p.auth.Value))
	}
	if len(w.buf) > MaxFragLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(w.buf))
	}
	p.hdr.FragLength = uint16(len(w.buf))
	p.hdr.put(w.buf)
	p.raw = w.buf
	return w.buf, nil
}

// Parse decodes exactly one complete PDU from b.
func Parse(b []byte) (*PDU, error) {
	p := &PDU{}
	n := p.Append(b)
	if err := p.Err(); err != nil {
		return nil, err
	}
	if !p.Complete() {
		return nil, ErrIncomplete
	}
	if n != len(b) {
		return nil, fmt.Errorf("protocol: %d trailing bytes after pdu", len(b)-n)
	}
	return p, nil
}

func newOutbound(ptype uint8, callID uint32, body bodyEncoder) *PDU {
	return &PDU{
		hdr: Header{
			Version:      rpcVersion,
			VersionMinor: rpcVersionMinor,
			Type:         ptype,
			Flags:        FlagFirstFrag | FlagLastFrag,
			DataRep:      LittleEndianDrep,
			CallID:       callID,
		},
		body:     body,
		outbound: true,
	}
}

// bodyBytes returns the stub region of a complete inbound PDU: everything after
// the header up to the auth trailer, with the trailer's pad excluded.
func (p *PDU) bodyBytes() ([]byte, error) {
	if p.outbound {
		if _, err := p.Marshal(); err != nil {
			return nil, err
		}
	}
	if !p.Complete() {
		return nil, ErrIncomplete
	}
	end := int(p.hdr.FragLength)
	if p.hdr.AuthLength > 0 {
		end -= authTrailerSize + int(p.hdr.AuthLength)
		pad := int(p.raw[end+2])
		if end-pad < HeaderSize {
			return nil, ErrShortBody
		}
		end -= pad
	}
	return p.raw[HeaderSize:end], nil
}

func (p *PDU) reader(want ...uint8) (*reader, error) {
	ok := len(want) == 0
	for _, t := range want {
		if p.hdr.Type == t {
			ok = true
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWrongType, PtypeName(p.hdr.Type))
	}
	body, err := p.bodyBytes()
	if err != nil {
		return nil, err
	}
	return &reader{buf: body, base: HeaderSize, order: p.hdr.order()}, nil
}
