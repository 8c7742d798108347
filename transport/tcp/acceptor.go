// File: transport/tcp/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SockAcceptor: a non-blocking listening socket.

package tcp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-rpc/api"
	"golang.org/x/sys/unix"
)

const listenBacklog = 128

// SockAcceptor listens on a TCP address. Its descriptor is non-blocking so a
// spurious readiness event yields api.ErrWouldBlock instead of stalling the
// reactor; accepted streams are blocking.
type SockAcceptor struct {
	mu     sync.Mutex
	fd     int
	addr   string
	closed bool
}

// Listen binds and listens on addr ("host:port", port 0 picks a free port).
func Listen(addr string, reuseAddr bool) (*SockAcceptor, error) {
	sa, family, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeResourceExhausted, "socket", err)
	}
	if reuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &SockAcceptor{fd: fd, addr: formatSockaddr(bound)}, nil
}

// Accept returns the next pending connection.
func (a *SockAcceptor) Accept() (api.Stream, error) {
	a.mu.Lock()
	fd, closed := a.fd, a.closed
	a.mu.Unlock()
	if closed {
		return nil, api.ErrStreamClosed
	}
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return NewSockStream(nfd), nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, api.ErrWouldBlock
		default:
			return nil, api.Wrap(api.ErrCodeIO, "accept", err)
		}
	}
}

func (a *SockAcceptor) Handle() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return -1
	}
	return a.fd
}

// Addr returns the bound address, with the kernel-chosen port resolved.
func (a *SockAcceptor) Addr() string {
	return a.addr
}

func (a *SockAcceptor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return unix.Close(a.fd)
}
