// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package sockaddr provides a fixed-size socket address tagged by family
// (IPv4, IPv6, Unix path, Netlink) and name resolution producing ordered
// candidate lists. Targets Linux.
package sockaddr
