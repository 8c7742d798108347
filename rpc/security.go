// File: rpc/security.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc

import "github.com/momentics/hioload-rpc/protocol"

// SecurityProvider authenticates channels. The handler calls it around
// every BIND, REQUEST and AUTH3; the provider may inspect the request and
// attach verifiers to the reply. A nil provider leaves channels
// unauthenticated.
type SecurityProvider interface {
	ChannelAdd(channelID uint32) error
	ChannelRemove(channelID uint32)
	ServerBindValidate(channelID uint32, req, resp *protocol.PDU) error
	ServerRequestValidate(channelID uint32, req, resp *protocol.PDU) error
	ServerAuth3Validate(channelID uint32, auth3 *protocol.PDU) error
}
