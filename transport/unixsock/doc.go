// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package unixsock serves and dials SOCK_STREAM sockets bound to
// filesystem paths, using the same Acceptor and Connection as TCP.
package unixsock
