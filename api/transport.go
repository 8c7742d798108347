// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the connected byte-stream abstraction consumed by service handlers.

package api

// Stream abstracts one connected, full-duplex socket backed by an OS descriptor.
type Stream interface {
	// Recv reads at most len(buf) bytes. A zero count with a nil error means
	// the peer closed the stream.
	Recv(buf []byte) (int, error)

	// Send writes buf and returns the number of bytes accepted by the kernel.
	// Short writes are not retried.
	Send(buf []byte) (int, error)

	// Close shuts down the stream; further calls return ErrStreamClosed.
	Close() error

	// Handle returns the underlying descriptor, or -1 once closed.
	Handle() int

	// PeerAddr and HostAddr describe the two endpoints.
	PeerAddr() string
	HostAddr() string
}
