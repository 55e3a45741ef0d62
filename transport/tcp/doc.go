// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp binds connections and acceptors to TCP over IPv4 and IPv6:
// a listening server wrapped in an Acceptor, and a client that tries
// resolved candidates in order.
package tcp
