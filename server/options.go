// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/control"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithSecurityProvider validates binds, requests and AUTH3 legs with ssp.
func WithSecurityProvider(ssp rpc.SecurityProvider) ServerOption {
	return func(s *Server) {
		s.ssp = ssp
	}
}

// WithMetrics shares an existing registry instead of a private one.
func WithMetrics(m *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithReactor runs the server on r instead of a private reactor. The caller
// keeps ownership: Run drives r, and shutdown unregisters the server's
// listener and connections, clears the loop's end request and leaves r open
// for its next user.
func WithReactor(r *reactor.Reactor) ServerOption {
	return func(s *Server) {
		s.r = r
		s.sharedReactor = true
	}
}

// WithLogger replaces the server's logger.
func WithLogger(l *logrus.Entry) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}
