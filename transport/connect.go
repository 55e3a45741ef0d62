// File: transport/connect.go
// Author: momentics <momentics@gmail.com>
//
// Family-agnostic client factory.

package transport

import (
	"context"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport/tcp"
	"github.com/momentics/hioload-netio/transport/udp"
	"github.com/momentics/hioload-netio/transport/unixsock"
)

// Connect opens a connection of the given type. For TypeUnix host is the
// socket path. TypeUDP yields a connected datagram endpoint to the first
// resolved candidate.
func Connect(ctx context.Context, r api.Reactor, host, service string, typ sockaddr.SocketType, opts ...conn.Option) (*conn.Connection, error) {
	switch typ {
	case sockaddr.TypeTCP:
		return tcp.Dial(ctx, r, host, service, opts...)
	case sockaddr.TypeUnix:
		return unixsock.Dial(r, host, opts...)
	case sockaddr.TypeUDP:
		peer, err := sockaddr.ResolveFirst(ctx, host, service, typ)
		if err != nil {
			return nil, err
		}
		ep, err := udp.Dial[[65507]byte](r, peer, nil, udp.WithConnOptions(opts...))
		if err != nil {
			return nil, err
		}
		return ep.Connection, nil
	}
	return nil, api.Errorf(api.ErrCodeNotSupported, "connect", "no stream transport for %s", typ)
}

// ConnectAddress picks the transport from addr's family.
func ConnectAddress(ctx context.Context, r api.Reactor, addr sockaddr.Address, opts ...conn.Option) (*conn.Connection, error) {
	switch {
	case addr.IsIP():
		d := tcp.Dialer{ConnOptions: opts}
		return d.DialAddress(ctx, r, addr)
	case addr.Family() == sockaddr.FamilyUnix:
		return unixsock.DialAddress(r, addr, opts...)
	}
	return nil, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "connect", "%s", addr)
}
