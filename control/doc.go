// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control surface of an hioload-rpc server: counters, a live
// configuration store with reload listeners, and named debug probes.
//
// Every type here is safe for concurrent use; readers always receive
// copies, never the live maps.
package control
