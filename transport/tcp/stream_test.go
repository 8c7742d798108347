package tcp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-rpc/api"
)

func TestListenConnectAccept(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", true)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	if strings.HasSuffix(ln.Addr(), ":0") {
		t.Fatalf("expected resolved port, got %s", ln.Addr())
	}

	if _, err := ln.Accept(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("expected would-block on idle listener, got %v", err)
	}

	cli, err := SockConnector{}.Connect(ln.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	srv, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	if srv.PeerAddr() != cli.HostAddr() {
		t.Errorf("peer/host mismatch: %s vs %s", srv.PeerAddr(), cli.HostAddr())
	}

	if n, err := cli.Send([]byte("ping")); err != nil || n != 4 {
		t.Fatalf("send: n=%d err=%v", n, err)
	}
	buf := make([]byte, 16)
	n, err := srv.Recv(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("expected ping, got %q", buf[:n])
	}
}

func TestStreamPairEOFAndClose(t *testing.T) {
	a, b, err := NewStreamPair()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a.Handle() < 0 || b.Handle() < 0 {
		t.Fatal("expected valid handles")
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if a.Handle() != -1 {
		t.Error("closed stream should report -1")
	}
	if err := a.Close(); !errors.Is(err, api.ErrStreamClosed) {
		t.Errorf("second close: %v", err)
	}
	if _, err := a.Send([]byte("x")); !errors.Is(err, api.ErrStreamClosed) {
		t.Errorf("send on closed: %v", err)
	}

	buf := make([]byte, 8)
	n, err := b.Recv(buf)
	if err != nil || n != 0 {
		t.Errorf("expected EOF, got n=%d err=%v", n, err)
	}
}

func TestNonblockingRecv(t *testing.T) {
	a, b, err := NewStreamPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()
	if err := b.SetNonblock(true); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Recv(make([]byte, 4)); !errors.Is(err, api.ErrWouldBlock) {
		t.Errorf("expected would-block, got %v", err)
	}
}

func TestShutdownWakesBlockedRecv(t *testing.T) {
	a, b, err := NewStreamPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	done := make(chan int, 1)
	go func() {
		n, _ := b.Recv(make([]byte, 4))
		done <- n
	}()
	time.Sleep(20 * time.Millisecond)
	if err := b.Shutdown(); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("expected EOF after shutdown, got %d bytes", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv still blocked after Shutdown")
	}
}

func TestResolve(t *testing.T) {
	if _, _, err := resolve("nonsense"); err == nil {
		t.Error("expected parse error")
	}
	if _, _, err := resolve("127.0.0.1:99999"); err == nil {
		t.Error("expected port error")
	}
	sa, _, err := resolve("[::1]:80")
	if err != nil {
		t.Fatal(err)
	}
	if got := formatSockaddr(sa); got != "[::1]:80" {
		t.Errorf("unexpected format %s", got)
	}
}

func TestRecvTimeout(t *testing.T) {
	a, b, err := NewStreamPair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()
	if err := b.SetRecvTimeout(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := b.Recv(make([]byte, 4)); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("expected would-block after the timeout, got %v", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond || waited > 2*time.Second {
		t.Errorf("Recv returned after %s", waited)
	}

	if _, err := a.Send([]byte("ok")); err != nil {
		t.Fatal(err)
	}
	if n, err := b.Recv(make([]byte, 4)); err != nil || n != 2 {
		t.Errorf("Recv = %d, %v", n, err)
	}
}
