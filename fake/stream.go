// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-rpc/api"
)

// handles are well above anything a test process opens for real, so a fake
// stream can be registered with a reactor that is never run.
var nextHandle atomic.Int32

func init() { nextHandle.Store(900) }

// Stream is an in-memory api.Stream. Inbound chunks queued with AddRecvData
// are returned by Recv in order; a chunk larger than the caller's buffer is
// split. Once the queue is empty Recv reports would-block, or EOF after
// CloseRecv.
type Stream struct {
	mu        sync.Mutex
	handle    int
	recv      [][]byte
	sent      [][]byte
	eof       bool
	closed    bool
	recvError error
	sendError error
	sendLimit int
	peer      string
	host      string
}

// NewStream creates an open fake stream with a unique handle.
func NewStream() *Stream {
	return &Stream{
		handle: int(nextHandle.Add(1)),
		peer:   "10.0.0.2:49152",
		host:   "10.0.0.1:135",
	}
}

func (s *Stream) Recv(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.ErrStreamClosed
	}
	if s.recvError != nil {
		return 0, s.recvError
	}
	if len(s.recv) == 0 {
		if s.eof {
			return 0, nil
		}
		return 0, api.ErrWouldBlock
	}
	n := copy(buf, s.recv[0])
	if n < len(s.recv[0]) {
		s.recv[0] = s.recv[0][n:]
	} else {
		s.recv = s.recv[1:]
	}
	return n, nil
}

func (s *Stream) Send(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, api.ErrStreamClosed
	}
	if s.sendError != nil {
		return 0, s.sendError
	}
	n := len(buf)
	if s.sendLimit > 0 && n > s.sendLimit {
		n = s.sendLimit
	}
	s.sent = append(s.sent, append([]byte(nil), buf[:n]...))
	return n, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrStreamClosed
	}
	s.closed = true
	return nil
}

// Shutdown marks the inbound side finished, like shutdown(2).
func (s *Stream) Shutdown() error {
	s.CloseRecv()
	return nil
}

func (s *Stream) Handle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1
	}
	return s.handle
}

func (s *Stream) PeerAddr() string { return s.peer }
func (s *Stream) HostAddr() string { return s.host }

// AddRecvData queues a chunk for Recv.
func (s *Stream) AddRecvData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv = append(s.recv, append([]byte(nil), data...))
}

// CloseRecv makes Recv report EOF once the queue drains.
func (s *Stream) CloseRecv() {
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
}

// SetRecvError configures the stream to fail every Recv.
func (s *Stream) SetRecvError(err error) {
	s.mu.Lock()
	s.recvError = err
	s.mu.Unlock()
}

// SetSendError configures the stream to fail every Send.
func (s *Stream) SetSendError(err error) {
	s.mu.Lock()
	s.sendError = err
	s.mu.Unlock()
}

// SetSendLimit caps how many bytes one Send accepts; zero removes the cap.
func (s *Stream) SetSendLimit(n int) {
	s.mu.Lock()
	s.sendLimit = n
	s.mu.Unlock()
}

// GetSentData returns every chunk accepted by Send.
func (s *Stream) GetSentData() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// ClearSentData forgets previously sent chunks.
func (s *Stream) ClearSentData() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ api.Stream = (*Stream)(nil)
