// File: transport/unixsock/client.go
// Author: momentics <momentics@gmail.com>
//
// Unix-domain stream client.

package unixsock

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/sockaddr"
)

// Dial connects to the server at path.
func Dial(r api.Reactor, path string, opts ...conn.Option) (*conn.Connection, error) {
	addr, err := sockaddr.FromUnixPath(path)
	if err != nil {
		return nil, err
	}
	return DialAddress(r, addr, opts...)
}

// DialAddress connects to a Unix-domain address. Local connects complete
// immediately; a full backlog reports Unreachable.
func DialAddress(r api.Reactor, addr sockaddr.Address, opts ...conn.Option) (*conn.Connection, error) {
	if addr.Family() != sockaddr.FamilyUnix {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "connect", "%s is not a unix socket address", addr)
	}
	sa, err := addr.Sockaddr()
	if err != nil {
		return nil, err
	}
	h, err := fd.Socket(sockaddr.FamilyUnix, unix.SOCK_STREAM|unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(h.Get(), sa); err != nil {
		h.Close()
		return nil, api.NewError(api.ErrCodeUnreachable, "connect", err).WithContext("path", addr.Path())
	}
	local, _ := fd.LocalAddress(h)
	s := conn.NewStreamSocket(h, 0, local, addr)
	return conn.New(r, s, opts...)
}
