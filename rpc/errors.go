// File: rpc/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-rpc/protocol"
)

var (
	// ErrUnknownInterface is returned when no stubs are registered for an IID.
	ErrUnknownInterface = errors.New("rpc: unknown interface")
	// ErrUnknownObject is returned when an IPID does not name a registered object.
	ErrUnknownObject = errors.New("rpc: unknown object")
	// ErrOpnumRange is returned for an opnum beyond the interface's stubs.
	ErrOpnumRange = errors.New("rpc: opnum out of range")
	// ErrUnknownContext is returned for a REQUEST on a context never bound.
	ErrUnknownContext = errors.New("rpc: unknown presentation context")
	// ErrShortSend is returned when the transport accepts only part of a PDU.
	ErrShortSend = errors.New("rpc: short send")
)

// Fault is returned by a stub to make the server answer with a FAULT PDU
// carrying Status instead of a RESPONSE.
type Fault struct {
	Status uint32
	Err    error
}

// NewFault returns a Fault with the given status.
func NewFault(status uint32) *Fault {
	return &Fault{Status: status}
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("rpc fault 0x%08x: %v", f.Status, f.Err)
	}
	return fmt.Sprintf("rpc fault 0x%08x", f.Status)
}

func (f *Fault) Unwrap() error { return f.Err }

// FaultStatus maps a dispatch error to the status a FAULT reply carries.
func FaultStatus(err error) uint32 {
	var f *Fault
	switch {
	case errors.As(err, &f):
		return f.Status
	case errors.Is(err, ErrUnknownInterface):
		return protocol.StatusUnknownIf
	case errors.Is(err, ErrOpnumRange):
		return protocol.StatusOpRangeError
	case errors.Is(err, ErrUnknownObject):
		return protocol.StatusInvalidObject
	case errors.Is(err, protocol.ErrShortBody), errors.Is(err, protocol.ErrWrongType):
		return protocol.StatusProtoError
	default:
		return protocol.StatusFaultUnspec
	}
}
