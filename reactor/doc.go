// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the select(2)-based event reactor that multiplexes
// registered EventHandlers and interval timers on a single loop goroutine,
// together with the Acceptor, Connector and SvcHandler bridges that turn
// listening and connected sockets into per-connection handlers.
//
// The reactor holds non-owning references: a handler is owned by whoever
// created it and releases itself from HandleClose.
package reactor
