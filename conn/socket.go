// File: conn/socket.go
// Author: momentics <momentics@gmail.com>
//
// Raw I/O seams between connections and OS descriptors.

package conn

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/sockaddr"
)

// DefaultReadChunk is the per-readiness read size of stream sockets.
const DefaultReadChunk = 1024

// Socket performs the raw I/O of one Connection.
type Socket interface {
	FD() int
	// Recv reads once. (nil, nil) means nothing was available;
	// io.EOF reports an orderly shutdown by the peer.
	Recv() (*iobuf.Record, error)
	// Send writes the unconsumed bytes of r once. unix.EAGAIN means would block.
	Send(r *iobuf.Record) (int, error)
	// PendingError fetches the socket's asynchronous error, if any.
	PendingError() error
	Close() error
}

// Endpoints is implemented by sockets that know their addresses.
type Endpoints interface {
	LocalAddress() sockaddr.Address
	PeerAddress() sockaddr.Address
}

// Listener accepts peers of a listening socket.
type Listener interface {
	FD() int
	// Accept accepts once. (nil, nil) means no peer was waiting.
	Accept() (Socket, error)
	Address() sockaddr.Address
	Close() error
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// StreamSocket is a connected SOCK_STREAM descriptor.
type StreamSocket struct {
	h     *fd.Handle
	buf   []byte
	local sockaddr.Address
	peer  sockaddr.Address
}

// NewStreamSocket takes ownership of h. chunk <= 0 selects DefaultReadChunk.
func NewStreamSocket(h *fd.Handle, chunk int, local, peer sockaddr.Address) *StreamSocket {
	if chunk <= 0 {
		chunk = DefaultReadChunk
	}
	return &StreamSocket{h: h, buf: make([]byte, chunk), local: local, peer: peer}
}

func (s *StreamSocket) FD() int                        { return s.h.Get() }
func (s *StreamSocket) LocalAddress() sockaddr.Address { return s.local }
func (s *StreamSocket) PeerAddress() sockaddr.Address  { return s.peer }

func (s *StreamSocket) Recv() (*iobuf.Record, error) {
	n, err := unix.Read(s.h.Get(), s.buf)
	switch {
	case err != nil && wouldBlock(err):
		return nil, nil
	case err != nil:
		return nil, err
	case n == 0:
		return nil, io.EOF
	}
	return iobuf.NewRecord(s.buf[:n]), nil
}

func (s *StreamSocket) Send(r *iobuf.Record) (int, error) {
	n, err := unix.SendmsgN(s.h.Get(), r.Bytes(), nil, nil, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (s *StreamSocket) PendingError() error { return fd.PendingError(s.h) }

func (s *StreamSocket) Close() error {
	s.h.Close()
	return nil
}

// StreamListener accepts SOCK_STREAM peers.
type StreamListener struct {
	h       *fd.Handle
	addr    sockaddr.Address
	chunk   int
	prepare func(*fd.Handle) error
}

// NewStreamListener takes ownership of an already-listening handle.
// prepare, when set, configures every accepted peer (e.g. low latency).
func NewStreamListener(h *fd.Handle, addr sockaddr.Address, chunk int, prepare func(*fd.Handle) error) *StreamListener {
	return &StreamListener{h: h, addr: addr, chunk: chunk, prepare: prepare}
}

func (l *StreamListener) FD() int                   { return l.h.Get() }
func (l *StreamListener) Address() sockaddr.Address { return l.addr }

func (l *StreamListener) Accept() (Socket, error) {
	nfd, sa, err := unix.Accept4(l.h.Get(), unix.SOCK_CLOEXEC)
	if err != nil {
		if wouldBlock(err) {
			return nil, nil
		}
		return nil, err
	}
	h := fd.New(nfd)
	if err := fd.SetNonblock(h); err != nil {
		h.Close()
		return nil, err
	}
	if l.prepare != nil {
		if err := l.prepare(h); err != nil {
			h.Close()
			return nil, err
		}
	}
	peer, _ := sockaddr.FromSockaddr(sa)
	local, _ := fd.LocalAddress(h)
	return NewStreamSocket(h, l.chunk, local, peer), nil
}

func (l *StreamListener) Close() error {
	l.h.Close()
	return nil
}
