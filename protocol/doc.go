// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection-oriented DCE-RPC v5.0 PDU codec: incremental framing of a byte
// stream into PDUs, typed decoders for the bodies the server consumes and
// builders for the bodies it produces.
//
// Integer fields follow the sender's data representation (drep). UUIDs are
// carried NDR-style: the first three fields in drep order, the rest as bytes.
package protocol
