//go:build !linux
// +build !linux

// Author: momentics <momentics@gmail.com>

package concurrency

func PinCurrentThread(int) error {
	return ErrAffinityNotSupported
}

func CurrentThreadCPUs() ([]int, error) {
	return nil, ErrAffinityNotSupported
}
