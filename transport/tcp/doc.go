// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides descriptor-level TCP streams, a passive listener and
// an active connector built directly on golang.org/x/sys/unix so that their
// handles can be multiplexed by the select(2) reactor.
package tcp
