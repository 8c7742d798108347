// File: transport/tcp/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SockStream: a connected socket descriptor implementing api.Stream.

package tcp

import (
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"golang.org/x/sys/unix"
)

// SockStream owns one connected descriptor. Recv and Send are safe to call
// from the single goroutine that currently owns the connection; Close may be
// called from anywhere.
type SockStream struct {
	mu     sync.RWMutex
	fd     int
	closed bool
}

// NewSockStream adopts fd.
func NewSockStream(fd int) *SockStream {
	return &SockStream{fd: fd}
}

// NewStreamPair returns two connected local streams (socketpair(2)).
func NewStreamPair() (*SockStream, *SockStream, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, api.Wrap(api.ErrCodeResourceExhausted, "socketpair", err)
	}
	return NewSockStream(fds[0]), NewSockStream(fds[1]), nil
}

func (s *SockStream) handle() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return -1, api.ErrStreamClosed
	}
	return s.fd, nil
}

// Recv reads into buf, retrying on EINTR. A would-block read on a
// non-blocking stream returns api.ErrWouldBlock.
func (s *SockStream) Recv(buf []byte) (int, error) {
	fd, err := s.handle()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return 0, api.Wrap(api.ErrCodeIO, "recv", err)
		}
	}
}

// Send writes buf once; a short write is returned to the caller.
func (s *SockStream) Send(buf []byte) (int, error) {
	fd, err := s.handle()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.SendmsgN(fd, buf, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return n, api.Wrap(api.ErrCodeIO, "send", err)
		}
	}
}

func (s *SockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrStreamClosed
	}
	s.closed = true
	return unix.Close(s.fd)
}

// Shutdown disables both directions without releasing the descriptor, which
// wakes a goroutine blocked in Recv.
func (s *SockStream) Shutdown() error {
	fd, err := s.handle()
	if err != nil {
		return err
	}
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}

func (s *SockStream) Handle() int {
	fd, err := s.handle()
	if err != nil {
		return -1
	}
	return fd
}

// SetNonblock toggles O_NONBLOCK on the descriptor.
func (s *SockStream) SetNonblock(on bool) error {
	fd, err := s.handle()
	if err != nil {
		return err
	}
	return unix.SetNonblock(fd, on)
}

// SetRecvTimeout bounds a blocking Recv with SO_RCVTIMEO. An expired wait
// returns api.ErrWouldBlock. Zero waits forever.
func (s *SockStream) SetRecvTimeout(d time.Duration) error {
	fd, err := s.handle()
	if err != nil {
		return err
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (s *SockStream) PeerAddr() string {
	fd, err := s.handle()
	if err != nil {
		return ""
	}
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	return formatSockaddr(sa)
}

func (s *SockStream) HostAddr() string {
	fd, err := s.handle()
	if err != nil {
		return ""
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return ""
	}
	return formatSockaddr(sa)
}
