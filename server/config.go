// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-rpc/rpc"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr     string        // TCP bind address, e.g. "0.0.0.0:135"
	ReuseAddr      bool          // set SO_REUSEADDR on the listener
	Strategy       rpc.Strategy  // who processes connection input
	MinThreads     int           // pooled strategy: workers kept alive
	MaxThreads     int           // pooled strategy: growth limit
	QueueSize      int           // pooled strategy: pending hand-offs
	StackSize      int           // requested worker stack size, informational
	ScavengePeriod time.Duration // pooled strategy: idle worker check interval
	WorkerCPUs     []int         // pooled strategy: CPUs workers are pinned to

	// ThreadPriority is applied to pool workers and connection goroutines
	// when AdjustPriority is set.
	ThreadPriority int
	AdjustPriority bool

	// ClassPriorities runs calls on objects of the given classes at a fixed
	// nice value.
	ClassPriorities map[uuid.UUID]int

	LogLevel        string        // logrus level name
	ShutdownTimeout time.Duration // bound on waiting for connections at shutdown
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:1135",
		ReuseAddr:       true,
		Strategy:        rpc.SingleThreaded,
		MinThreads:      1,
		MaxThreads:      4,
		QueueSize:       64,
		ScavengePeriod:  5 * time.Second,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("server: empty listen address")
	}
	if c.Strategy == rpc.ThreadPooled {
		if c.MinThreads < 1 || c.MaxThreads < c.MinThreads {
			return fmt.Errorf("server: invalid thread pool bounds %d..%d", c.MinThreads, c.MaxThreads)
		}
		if c.QueueSize < 1 {
			return fmt.Errorf("server: invalid queue size %d", c.QueueSize)
		}
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("server: negative shutdown timeout")
	}
	return nil
}

// ifOptions translates the config into IfServer options.
func (c *Config) ifOptions() []rpc.Option {
	opts := []rpc.Option{
		rpc.WithStrategy(c.Strategy),
		rpc.WithThreadPool(c.MinThreads, c.MaxThreads),
		rpc.WithQueueSize(c.QueueSize),
		rpc.WithStackSize(c.StackSize),
		rpc.WithScavengePeriod(c.ScavengePeriod),
	}
	if len(c.WorkerCPUs) > 0 {
		opts = append(opts, rpc.WithWorkerCPUs(c.WorkerCPUs...))
	}
	if c.AdjustPriority {
		opts = append(opts, rpc.WithThreadPriority(c.ThreadPriority))
	}
	return opts
}
