// Package rpc
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection-oriented DCE-RPC server core. IfServer accepts connections on
// a reactor and manufactures one Handler per connection; each Handler frames
// the byte stream into PDUs, negotiates presentation contexts on BIND and
// forwards REQUESTs through a Dispatcher to stubs registered in a
// DispatchTable.
//
// Three concurrency strategies are available: every handler on the reactor
// goroutine, one goroutine per connection, or a dynamic ThreadPool fed by
// the reactor. A handler is only ever processed by one goroutine at a time.
package rpc
