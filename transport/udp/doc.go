// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package udp drives datagram sockets as connections. Every send carries an
// explicit destination; every received record carries its sender.
package udp
