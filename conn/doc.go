// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package conn implements the per-socket connection state machine and the
// acceptor that turns a listening socket's readiness into new connections.
//
// Every method of Connection and Acceptor must be called on the reactor
// goroutine (from a handler, or through reactor Submit); the types carry no
// locks.
package conn
