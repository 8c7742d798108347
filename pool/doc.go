// Package pool
// Author: momentics <momentics@gmail.com>
//
// Object and buffer recycling for hioload-rpc. SyncPool wraps sync.Pool with
// a typed constructor; BufferPool hands out fixed-size receive buffers to
// connection handlers.
package pool
