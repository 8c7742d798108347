// File: protocol/constants.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "github.com/google/uuid"

// PDU types (PTYPE).
const (
	PtypeRequest          uint8 = 0
	PtypeResponse         uint8 = 2
	PtypeFault            uint8 = 3
	PtypeBind             uint8 = 11
	PtypeBindAck          uint8 = 12
	PtypeBindNak          uint8 = 13
	PtypeAlterContext     uint8 = 14
	PtypeAlterContextResp uint8 = 15
	PtypeAuth3            uint8 = 16
	PtypeShutdown         uint8 = 17
	PtypeCoCancel         uint8 = 18
	PtypeOrphaned         uint8 = 19
)

const (
	rpcVersion      uint8 = 5
	rpcVersionMinor uint8 = 0

	// HeaderSize is the length of the common header every PDU starts with.
	HeaderSize = 16

	authTrailerSize = 8

	// MaxFragLength is the largest frag_length the header can carry.
	MaxFragLength = 1<<16 - 1

	// DefaultMaxFrag is the fragment size advertised in BIND and BIND_ACK.
	DefaultMaxFrag uint16 = 4280
)

// pfc_flags bits.
const (
	FlagFirstFrag     uint8 = 0x01
	FlagLastFrag      uint8 = 0x02
	FlagPendingCancel uint8 = 0x04
	FlagConcMpx       uint8 = 0x10
	FlagDidNotExecute uint8 = 0x20
	FlagMaybe         uint8 = 0x40
	FlagObjectUUID    uint8 = 0x80
)

// Fault status codes.
const (
	StatusOpRangeError  uint32 = 0x1c010002 // nca_op_rng_error
	StatusUnknownIf     uint32 = 0x1c010003 // nca_unk_if
	StatusProtoError    uint32 = 0x1c01000b // nca_proto_error
	StatusFaultUnspec   uint32 = 0x1c000012 // nca_s_fault_unspec
	StatusInvalidObject uint32 = 0x80010114 // RPC_E_INVALID_OBJECT
	StatusAccessDenied  uint32 = 0x00000005 // nca_s_fault_access_denied
)

// Presentation context negotiation results.
const (
	ResultAcceptance         uint16 = 0
	ResultUserRejection      uint16 = 1
	ResultProviderRejection  uint16 = 2
	ReasonNotSpecified       uint16 = 0
	ReasonAbstractSyntax     uint16 = 1
	ReasonTransferSyntaxes   uint16 = 2
	ReasonLocalLimitExceeded uint16 = 3
)

// BIND_NAK provider reject reasons.
const (
	NakReasonNotSpecified        uint16 = 0
	NakTemporaryCongestion       uint16 = 1
	NakLocalLimitExceeded        uint16 = 2
	NakProtocolVersionNotSupport uint16 = 4
	NakDefaultContextNotSupport  uint16 = 5
)

// LittleEndianDrep is the data representation this package writes by
// default: little-endian integers, ASCII characters, IEEE floats.
var LittleEndianDrep = [4]byte{0x10, 0, 0, 0}

// BigEndianDrep selects big-endian integers.
var BigEndianDrep = [4]byte{0x00, 0, 0, 0}

// NDRSyntax is the NDR transfer syntax, version 2.0.
var NDRSyntax = SyntaxID{
	UUID:    uuid.MustParse("8a885d04-1ceb-11c9-9fe8-08002b104860"),
	Version: 2,
}

// PtypeName returns a short name for a PDU type.
func PtypeName(t uint8) string {
	switch t {
	case PtypeRequest:
		return "request"
	case PtypeResponse:
		return "response"
	case PtypeFault:
		return "fault"
	case PtypeBind:
		return "bind"
	case PtypeBindAck:
		return "bind_ack"
	case PtypeBindNak:
		return "bind_nak"
	case PtypeAlterContext:
		return "alter_context"
	case PtypeAlterContextResp:
		return "alter_context_resp"
	case PtypeAuth3:
		return "auth3"
	case PtypeShutdown:
		return "shutdown"
	case PtypeCoCancel:
		return "co_cancel"
	case PtypeOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}
