//go:build linux
// +build linux

// hioload-rpc/internal/concurrency/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Per-thread CPU affinity via sched_setaffinity(2) on the calling thread id.

package concurrency

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinCurrentThread restricts the calling OS thread to cpu. The caller must
// hold runtime.LockOSThread.
func PinCurrentThread(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("pin cpu %d: %w", cpu, ErrInvalidCPU)
	}
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(unix.Gettid(), &set); err != nil {
		return fmt.Errorf("pin cpu %d: %w", cpu, err)
	}
	return nil
}

// CurrentThreadCPUs lists the CPUs the calling thread may run on.
func CurrentThreadCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(unix.Gettid(), &set); err != nil {
		return nil, err
	}
	cpus := make([]int, 0, set.Count())
	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
