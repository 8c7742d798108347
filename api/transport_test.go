package api_test

import (
	"testing"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/fake"
	"github.com/momentics/hioload-rpc/transport/tcp"
)

func TestStreamImplementations(t *testing.T) {
	var _ api.Stream = (*tcp.SockStream)(nil)
	var _ api.Stream = (*fake.Stream)(nil)
}

func TestStreamCloseContract(t *testing.T) {
	var s api.Stream = fake.NewStream()
	if s.Handle() < 0 {
		t.Fatal("open stream has no handle")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Handle() != -1 {
		t.Errorf("closed stream handle = %d, want -1", s.Handle())
	}
	if _, err := s.Recv(make([]byte, 1)); err != api.ErrStreamClosed {
		t.Errorf("Recv after Close = %v", err)
	}
	if err := s.Close(); err != api.ErrStreamClosed {
		t.Errorf("second Close = %v", err)
	}
}
