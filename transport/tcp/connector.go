// File: transport/tcp/connector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-rpc/api"
	"golang.org/x/sys/unix"
)

// SockConnector opens blocking TCP connections.
type SockConnector struct{}

// Connect dials addr synchronously.
func (SockConnector) Connect(addr string) (api.Stream, error) {
	sa, family, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeResourceExhausted, "socket", err)
	}
	for {
		err = unix.Connect(fd, sa)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return NewSockStream(fd), nil
}
