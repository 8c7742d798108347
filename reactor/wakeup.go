// File: reactor/wakeup.go
// Author: momentics <momentics@gmail.com>
//
// Self-pipe used to wake a loop blocked in select(2).

package reactor

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// wakeupHandler owns a non-blocking pipe whose read end is registered with
// the reactor. At most one byte is outstanding: pending is set when a byte is
// written and cleared when the loop drains it.
type wakeupHandler struct {
	BaseHandler

	mu      sync.Mutex
	pending bool
	fds     [2]int
	closed  bool
}

func newWakeupHandler() (*wakeupHandler, error) {
	w := &wakeupHandler{}
	if err := unix.Pipe2(w.fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	if !validHandle(w.fds[0]) {
		w.close()
		return nil, errors.New("reactor: wakeup pipe beyond select limit")
	}
	w.SetHandle(w.fds[0])
	return w, nil
}

func (w *wakeupHandler) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending || w.closed {
		return
	}
	if _, err := unix.Write(w.fds[1], []byte{'.'}); err == nil || errors.Is(err, unix.EAGAIN) {
		w.pending = true
	}
}

func (w *wakeupHandler) HandleInput(int) int {
	var buf [64]byte
	for {
		n, err := unix.Read(w.fds[0], buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	w.mu.Lock()
	w.pending = false
	w.mu.Unlock()
	return 0
}

// HandleClose keeps the pipe open: the wakeup channel lives as long as its reactor.
func (w *wakeupHandler) HandleClose(int, EventMask) int {
	return 0
}

func (w *wakeupHandler) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := unix.Close(w.fds[0])
	if err2 := unix.Close(w.fds[1]); err == nil {
		err = err2
	}
	return err
}
