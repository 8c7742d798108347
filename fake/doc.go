// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable doubles for the stream, dispatch table
// and security provider interfaces.
package fake
