// File: server/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
)

// Run drives the reactor until ctx is cancelled or Shutdown is called, then
// orchestrates graceful teardown. A server runs at most once.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrServerClosed
	case s.running:
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.r.EventLoopEnd()
		case <-stop:
		}
	}()

	s.log.Infof("listening on %s, strategy %s", s.Addr(), s.cfg.Strategy)
	err := s.r.Run()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if cerr := s.release(); err == nil {
		err = cerr
	}
	if s.sharedReactor {
		s.r.EventLoopReset()
	}
	return err
}

// Shutdown asks Run to return. A server that never ran is released
// immediately. Shutdown is idempotent.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	running := s.running
	s.closed = true
	s.mu.Unlock()
	if running {
		s.r.EventLoopEnd()
		return nil
	}
	return s.release()
}
