// File: protocol/ndr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte-order aware cursor helpers shared by the body codecs. Alignment is
// always relative to the start of the PDU, so both cursors carry the
// absolute offset of their first byte.

package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// ErrShortBody reports a PDU body that ends before its declared fields.
var ErrShortBody = errors.New("protocol: pdu body truncated")

// SyntaxID names an abstract or transfer syntax: an interface UUID plus a
// major/minor version.
type SyntaxID struct {
	UUID         uuid.UUID
	Version      uint16
	MinorVersion uint16
}

// ByteOrder returns the integer byte order selected by a drep.
func ByteOrder(drep [4]byte) binary.ByteOrder {
	if drep[0]&0x10 != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

type writer struct {
	buf   []byte
	order binary.ByteOrder
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	w.order.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

// align pads with zeros to a multiple of n and returns the pad length.
func (w *writer) align(n int) int {
	pad := (n - len(w.buf)%n) % n
	for i := 0; i < pad; i++ {
		w.buf = append(w.buf, 0)
	}
	return pad
}

func (w *writer) uuid(u uuid.UUID) {
	w.u32(binary.BigEndian.Uint32(u[0:4]))
	w.u16(binary.BigEndian.Uint16(u[4:6]))
	w.u16(binary.BigEndian.Uint16(u[6:8]))
	w.bytes(u[8:16])
}

func (w *writer) syntax(s SyntaxID) {
	w.uuid(s.UUID)
	w.u32(uint32(s.Version) | uint32(s.MinorVersion)<<16)
}

type reader struct {
	buf   []byte
	off   int
	base  int
	order binary.ByteOrder
	err   error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrShortBody
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return r.order.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return r.order.Uint32(b)
	}
	return 0
}

func (r *reader) align(n int) {
	abs := r.base + r.off
	r.take((n - abs%n) % n)
}

func (r *reader) uuid() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], r.u32())
	binary.BigEndian.PutUint16(u[4:6], r.u16())
	binary.BigEndian.PutUint16(u[6:8], r.u16())
	copy(u[8:], r.take(8))
	return u
}

func (r *reader) syntax() SyntaxID {
	u := r.uuid()
	v := r.u32()
	return SyntaxID{UUID: u, Version: uint16(v), MinorVersion: uint16(v >> 16)}
}

// rest returns the unread remainder.
func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}
