// File: transport/tcp/server.go
// Author: momentics <momentics@gmail.com>
//
// TCP server: create, bind, non-blocking, listen, wrap in an Acceptor.

package tcp

import (
	"context"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/sockaddr"
)

// Backlog is the listen queue length.
const Backlog = 128

type options struct {
	lowLatency   bool
	reuseAddr    bool
	readChunk    int
	acceptorOpts []conn.AcceptorOption
	peerOpts     []conn.Option
}

// Option customizes a TCP server.
type Option func(*options)

// WithLowLatency sets TCP_NODELAY and TCP_QUICKACK on every accepted peer.
func WithLowLatency(on bool) Option {
	return func(o *options) { o.lowLatency = on }
}

// WithReuseAddr toggles SO_REUSEADDR on the listening socket. Default on.
func WithReuseAddr(on bool) Option {
	return func(o *options) { o.reuseAddr = on }
}

// WithReadChunk sets the per-read size of accepted peers.
func WithReadChunk(n int) Option {
	return func(o *options) { o.readChunk = n }
}

// WithAcceptorOptions forwards options to the Acceptor.
func WithAcceptorOptions(opts ...conn.AcceptorOption) Option {
	return func(o *options) { o.acceptorOpts = append(o.acceptorOpts, opts...) }
}

// WithPeerOptions forwards options to every accepted Connection.
func WithPeerOptions(opts ...conn.Option) Option {
	return func(o *options) { o.peerOpts = append(o.peerOpts, opts...) }
}

// Listen serves TCP on addr, which must be IPv4 or IPv6. Port 0 picks an
// ephemeral port; the Acceptor's Address reports the bound one.
func Listen(r api.Reactor, addr sockaddr.Address, onAccept conn.AcceptHandler, opts ...Option) (*conn.Acceptor, error) {
	o := options{reuseAddr: true}
	for _, fn := range opts {
		fn(&o)
	}
	if !addr.IsIP() {
		return nil, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "listen",
			"tcp needs an IPv4 or IPv6 address, got %s", addr)
	}

	h, err := fd.Socket(addr.Family(), unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	if err := setupListener(h, addr, o); err != nil {
		h.Close()
		return nil, err
	}
	local, err := fd.LocalAddress(h)
	if err != nil {
		h.Close()
		return nil, err
	}

	var prepare func(*fd.Handle) error
	if o.lowLatency {
		prepare = func(peer *fd.Handle) error { return fd.SetLowLatency(peer, true) }
	}
	l := conn.NewStreamListener(h, local, o.readChunk, prepare)
	aopts := append(o.acceptorOpts, conn.WithPeerOptions(o.peerOpts...))
	return conn.NewAcceptor(r, l, onAccept, aopts...)
}

func setupListener(h *fd.Handle, addr sockaddr.Address, o options) error {
	if o.reuseAddr {
		if err := fd.SetReuseAddr(h, true); err != nil {
			return err
		}
	}
	if err := fd.Bind(h, addr); err != nil {
		return err
	}
	if err := fd.SetNonblock(h); err != nil {
		return err
	}
	return fd.Listen(h, Backlog)
}

// ListenHost resolves host and service and serves on the first candidate.
func ListenHost(ctx context.Context, r api.Reactor, host, service string, onAccept conn.AcceptHandler, opts ...Option) (*conn.Acceptor, error) {
	addr, err := sockaddr.ResolveFirst(ctx, host, service, sockaddr.TypeTCP)
	if err != nil {
		return nil, err
	}
	return Listen(r, addr, onAccept, opts...)
}

// ListenPort serves on every IPv4 interface.
func ListenPort(r api.Reactor, port uint16, onAccept conn.AcceptHandler, opts ...Option) (*conn.Acceptor, error) {
	addr, err := sockaddr.FromAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), port))
	if err != nil {
		return nil, err
	}
	return Listen(r, addr, onAccept, opts...)
}
