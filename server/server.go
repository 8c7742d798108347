// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server is the process-level facade: it owns the reactor, the listening
// socket and the IfServer, and exposes metrics, debug probes and live
// reconfiguration.

package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/momentics/hioload-rpc/transport/tcp"
)

var (
	ErrAlreadyRunning = errors.New("server already running")
	ErrServerClosed   = errors.New("server closed")
)

// Config keys understood by Reload.
const (
	KeyLogLevel = "log_level"
)

// Server is the high-level facade encapsulating reactor, listener and control.
type Server struct {
	cfg     *Config
	r       *reactor.Reactor
	ln      *tcp.SockAcceptor
	ifs     *rpc.IfServer
	ssp     rpc.SecurityProvider
	metrics *control.MetricsRegistry
	config  *control.ConfigStore
	probes  *control.DebugProbes
	log     *logrus.Entry

	// sharedReactor marks a reactor supplied through WithReactor
	sharedReactor bool

	mu        sync.Mutex
	running   bool
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New builds a listening server that serves the interfaces in table. It does
// not process events until Run.
func New(cfg *Config, table rpc.DispatchTable, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if table == nil {
		return nil, fmt.Errorf("server: nil dispatch table")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("server: log level: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		config: control.NewConfigStore(),
		probes: control.NewDebugProbes(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.New("server")
	}
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}

	r := s.r
	if r == nil {
		var err error
		if r, err = reactor.New(reactor.WithLogger(logging.New("reactor"))); err != nil {
			return nil, err
		}
	}
	ln, err := tcp.Listen(cfg.ListenAddr, cfg.ReuseAddr)
	if err != nil {
		s.closeReactor(r)
		return nil, err
	}

	var dopts []rpc.DispatcherOption
	var policy *rpc.ThreadPriorityPolicy
	if len(cfg.ClassPriorities) > 0 {
		policy = rpc.NewThreadPriorityPolicy()
		for clsid, nice := range cfg.ClassPriorities {
			policy.Set(clsid, nice)
		}
		dopts = append(dopts, rpc.WithPriorityPolicy(policy))
	}
	ifopts := append(cfg.ifOptions(),
		rpc.WithMetrics(s.metrics),
		rpc.WithLogger(logging.New("rpc")),
	)
	if s.ssp != nil {
		ifopts = append(ifopts, rpc.WithSecurityProvider(s.ssp))
	}
	ifs := rpc.NewIfServer(rpc.NewDispatcher(table, dopts...), ifopts...)
	if err := ifs.Open(ln, r); err != nil {
		ln.Close()
		s.closeReactor(r)
		return nil, err
	}
	s.r, s.ln, s.ifs = r, ln, ifs

	s.config.SetConfig(map[string]any{
		KeyLogLevel: cfg.LogLevel,
	})
	s.config.OnReload(s.applyReload)

	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("listen_addr", func() any { return s.Addr() })
	s.probes.RegisterProbe("strategy", func() any { return s.ifs.Strategy().String() })
	s.probes.RegisterProbe("connections", func() any { return s.ifs.Connections() })
	s.probes.RegisterProbe("pool_threads", func() any { return s.ifs.ThreadCount() })
	s.probes.RegisterProbe("reactor_handles", func() any { return s.r.Handles() })
	if policy != nil {
		s.probes.RegisterProbe("priority_stranded", func() any { return policy.Stranded() })
	}
	return s, nil
}

// applyReload reacts to configuration changes published through Reload.
func (s *Server) applyReload(changed map[string]any) {
	if v, ok := changed[KeyLogLevel]; ok {
		level, _ := v.(string)
		if err := logging.SetLevel(level); err != nil {
			s.log.WithError(err).Warnf("ignoring log level %q", level)
			return
		}
		s.log.Infof("log level set to %s", level)
	}
}

// Reload merges new runtime settings, e.g. {"log_level": "debug"}.
func (s *Server) Reload(values map[string]any) {
	s.config.SetConfig(values)
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr()
}

// IfServer exposes the underlying interface server.
func (s *Server) IfServer() *rpc.IfServer {
	return s.ifs
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() map[string]any {
	return s.metrics.GetSnapshot()
}

// DebugState evaluates every registered probe.
func (s *Server) DebugState() map[string]any {
	return s.probes.DumpState()
}

// Config returns the runtime configuration snapshot.
func (s *Server) Config() map[string]any {
	return s.config.GetSnapshot()
}

func (s *Server) closeReactor(r *reactor.Reactor) error {
	if s.sharedReactor {
		return nil
	}
	return r.Close()
}

// release stops accepting, tears down connections and frees the reactor.
// The reactor loop must not be running.
func (s *Server) release() error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- s.ifs.Close() }()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		select {
		case err := <-done:
			s.closeErr = err
		case <-time.After(timeout):
			s.closeErr = fmt.Errorf("server: connections still open after %s", timeout)
			s.log.Warn(s.closeErr)
		}
		if err := s.closeReactor(s.r); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.log.Info("server stopped")
	})
	return s.closeErr
}
