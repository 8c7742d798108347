//go:build linux
// +build linux

// hioload-rpc/internal/concurrency/priority_linux.go
// Author: momentics <momentics@gmail.com>
//
// Per-thread scheduling priority via setpriority(2) on the calling thread id.

package concurrency

import "golang.org/x/sys/unix"

// SetThreadPriority sets the nice value of the calling OS thread. The caller
// must hold runtime.LockOSThread, otherwise the change lands on whatever
// thread the goroutine happens to run on.
func SetThreadPriority(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}

// ThreadPriority returns the calling thread's nice value.
func ThreadPriority() (int, error) {
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, unix.Gettid())
	if err != nil {
		return 0, err
	}
	// the raw syscall reports 20 - nice
	return 20 - raw, nil
}
