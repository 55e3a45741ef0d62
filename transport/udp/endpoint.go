// File: transport/udp/endpoint.go
// Author: momentics <momentics@gmail.com>
//
// UDP endpoint over a Connection, with a fixed-size receive packet.

package udp

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/sockaddr"
)

type options struct {
	confirm  bool
	connOpts []conn.Option
}

// Option customizes an Endpoint.
type Option func(*options)

// WithConfirm sets MSG_CONFIRM on every send.
func WithConfirm(on bool) Option {
	return func(o *options) { o.confirm = on }
}

// WithConnOptions forwards options to the underlying Connection.
func WithConnOptions(opts ...conn.Option) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, opts...) }
}

// Endpoint is a UDP socket. S bounds the largest datagram it can receive;
// longer datagrams are truncated.
type Endpoint[S iobuf.Storage] struct {
	*conn.Connection
	sock *datagramSocket[S]
}

// Open creates an endpoint of local's family. With a non-nil onData the
// socket is bound to local and receives; otherwise it is send-only and
// local only selects the family.
func Open[S iobuf.Storage](r api.Reactor, local sockaddr.Address, onData conn.DataHandler, opts ...Option) (*Endpoint[S], error) {
	if !local.IsIP() {
		return nil, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "udp open",
			"udp needs an IPv4 or IPv6 address, got %s", local)
	}
	o := buildOptions(opts)
	h, err := fd.Socket(local.Family(), unix.SOCK_DGRAM|unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}
	if onData != nil {
		if err := fd.Bind(h, local); err != nil {
			h.Close()
			return nil, err
		}
		if local, err = fd.LocalAddress(h); err != nil {
			h.Close()
			return nil, err
		}
	}
	s := &datagramSocket[S]{h: h, local: local, confirm: o.confirm}
	return wrap(r, s, onData, o)
}

// OpenHost resolves host and service and opens on the first candidate.
func OpenHost[S iobuf.Storage](ctx context.Context, r api.Reactor, host, service string, onData conn.DataHandler, opts ...Option) (*Endpoint[S], error) {
	addr, err := sockaddr.ResolveFirst(ctx, host, service, sockaddr.TypeUDP)
	if err != nil {
		return nil, err
	}
	return Open[S](r, addr, onData, opts...)
}

// Dial creates a connected endpoint: sends without a destination go to
// peer and only peer's datagrams are received.
func Dial[S iobuf.Storage](r api.Reactor, peer sockaddr.Address, onData conn.DataHandler, opts ...Option) (*Endpoint[S], error) {
	if !peer.IsIP() {
		return nil, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "udp dial",
			"udp needs an IPv4 or IPv6 address, got %s", peer)
	}
	o := buildOptions(opts)
	sa, err := peer.Sockaddr()
	if err != nil {
		return nil, err
	}
	h, err := fd.Socket(peer.Family(), unix.SOCK_DGRAM|unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(h.Get(), sa); err != nil {
		h.Close()
		return nil, api.NewError(api.ErrCodeUnreachable, "udp dial", err).WithContext("addr", peer.String())
	}
	local, err := fd.LocalAddress(h)
	if err != nil {
		h.Close()
		return nil, err
	}
	s := &datagramSocket[S]{h: h, local: local, peer: peer, connected: true, confirm: o.confirm}
	return wrap(r, s, onData, o)
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func wrap[S iobuf.Storage](r api.Reactor, s *datagramSocket[S], onData conn.DataHandler, o options) (*Endpoint[S], error) {
	copts := append([]conn.Option{conn.WithPartialWrites(false)}, o.connOpts...)
	if onData != nil {
		copts = append(copts, conn.WithDataHandler(onData))
	}
	c, err := conn.New(r, s, copts...)
	if err != nil {
		return nil, err
	}
	return &Endpoint[S]{Connection: c, sock: s}, nil
}

// SendTo queues a copy of p for dest. dest must share the endpoint's
// family; anything else would fail the socket at send time.
func (e *Endpoint[S]) SendTo(dest sockaddr.Address, p []byte) error {
	if !dest.IsIP() {
		return api.Errorf(api.ErrCodeInvalidArgument, "sendto", "destination %s is not an IP endpoint", dest)
	}
	if fam := e.sock.local.Family(); dest.Family() != fam {
		return api.Errorf(api.ErrCodeInvalidArgument, "sendto", "destination %s on an %s endpoint", dest, fam)
	}
	return e.Write(iobuf.NewRecordTo(p, dest))
}

// SendPacket queues the filled bytes of p for dest.
func (e *Endpoint[S]) SendPacket(dest sockaddr.Address, p *iobuf.Packet[S]) error {
	return e.SendTo(dest, p.Bytes())
}

// Send queues p for the connected peer.
func (e *Endpoint[S]) Send(p []byte) error {
	if !e.sock.connected {
		return api.Errorf(api.ErrCodeInvalidArgument, "send", "endpoint is not connected")
	}
	return e.WriteBytes(p)
}

// SetConfirm toggles MSG_CONFIRM.
func (e *Endpoint[S]) SetConfirm(on bool) { e.sock.confirm = on }

// Confirm reports whether MSG_CONFIRM is set.
func (e *Endpoint[S]) Confirm() bool { return e.sock.confirm }

// MaxDatagram is the receive capacity.
func (e *Endpoint[S]) MaxDatagram() int { return e.sock.pkt.Cap() }

type datagramSocket[S iobuf.Storage] struct {
	h         *fd.Handle
	pkt       iobuf.Packet[S]
	local     sockaddr.Address
	peer      sockaddr.Address
	connected bool
	confirm   bool
}

func (s *datagramSocket[S]) FD() int                        { return s.h.Get() }
func (s *datagramSocket[S]) LocalAddress() sockaddr.Address { return s.local }
func (s *datagramSocket[S]) PeerAddress() sockaddr.Address  { return s.peer }
func (s *datagramSocket[S]) PendingError() error            { return fd.PendingError(s.h) }

func (s *datagramSocket[S]) Recv() (*iobuf.Record, error) {
	s.pkt.Reset()
	n, from, err := unix.Recvfrom(s.h.Get(), s.pkt.Free(), unix.MSG_DONTWAIT)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	s.pkt.Advance(n)
	src := s.peer
	if from != nil {
		if a, err := sockaddr.FromSockaddr(from); err == nil {
			src = a
		}
	}
	return iobuf.NewRecordTo(s.pkt.Bytes(), src), nil
}

func (s *datagramSocket[S]) Send(r *iobuf.Record) (int, error) {
	flags := unix.MSG_DONTWAIT | unix.MSG_NOSIGNAL
	if s.confirm {
		flags |= unix.MSG_CONFIRM
	}
	var to unix.Sockaddr
	if dst := r.Address(); !s.connected || dst.IsIP() {
		var err error
		if to, err = dst.Sockaddr(); err != nil {
			return 0, err
		}
	}
	n, err := unix.SendmsgN(s.h.Get(), r.Bytes(), nil, to, flags)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (s *datagramSocket[S]) Close() error {
	s.h.Close()
	return nil
}
