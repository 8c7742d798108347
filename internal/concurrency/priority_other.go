//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>

package concurrency

func SetThreadPriority(int) error {
	return ErrPriorityNotSupported
}

func ThreadPriority() (int, error) {
	return 0, ErrPriorityNotSupported
}
