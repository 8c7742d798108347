// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-rpc: a bounded blocking task queue and
// a worker thread pool that grows on demand up to a ceiling and is shrunk
// back toward its floor by a reactor-driven scavenger timer. Workers can run
// at an adjusted OS-thread priority.
package concurrency
