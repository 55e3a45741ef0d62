// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for sockets and listeners.

package fake

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/sockaddr"
)

type recvItem struct {
	data []byte
	eof  bool
}

// Socket is a scripted conn.Socket.
type Socket struct {
	fd         int
	recv       []recvItem
	recvError  error
	sendLimits []int
	sendError  error
	pending    error
	closed     int

	// Attempts holds the bytes offered to each Send call.
	Attempts [][]byte
	written  []byte

	Local, Peer sockaddr.Address
}

var _ conn.Socket = (*Socket)(nil)

// NewSocket creates a fake socket reporting descriptor fd.
func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

func (s *Socket) FD() int                        { return s.fd }
func (s *Socket) LocalAddress() sockaddr.Address { return s.Local }
func (s *Socket) PeerAddress() sockaddr.Address  { return s.Peer }

// AddRecvData queues a chunk for the next Recv.
func (s *Socket) AddRecvData(p []byte) {
	s.recv = append(s.recv, recvItem{data: append([]byte(nil), p...)})
}

// AddRecvEOF queues an orderly shutdown.
func (s *Socket) AddRecvEOF() { s.recv = append(s.recv, recvItem{eof: true}) }

// SetRecvError makes Recv fail.
func (s *Socket) SetRecvError(err error) { s.recvError = err }

// LimitNextSend caps how many bytes the next Send accepts; n < 0 makes it
// report would-block.
func (s *Socket) LimitNextSend(n int) { s.sendLimits = append(s.sendLimits, n) }

// SetSendError makes Send fail.
func (s *Socket) SetSendError(err error) { s.sendError = err }

// SetPendingError sets the value returned by PendingError.
func (s *Socket) SetPendingError(err error) { s.pending = err }

func (s *Socket) Recv() (*iobuf.Record, error) {
	if s.recvError != nil {
		return nil, s.recvError
	}
	if len(s.recv) == 0 {
		return nil, nil
	}
	it := s.recv[0]
	s.recv = s.recv[1:]
	if it.eof {
		return nil, io.EOF
	}
	return iobuf.NewRecord(it.data), nil
}

func (s *Socket) Send(r *iobuf.Record) (int, error) {
	offered := append([]byte(nil), r.Bytes()...)
	s.Attempts = append(s.Attempts, offered)
	if s.sendError != nil {
		return 0, s.sendError
	}
	n := len(offered)
	if len(s.sendLimits) > 0 {
		lim := s.sendLimits[0]
		s.sendLimits = s.sendLimits[1:]
		if lim < 0 {
			return 0, unix.EAGAIN
		}
		if lim < n {
			n = lim
		}
	}
	s.written = append(s.written, offered[:n]...)
	return n, nil
}

func (s *Socket) PendingError() error { return s.pending }

func (s *Socket) Close() error {
	s.closed++
	return nil
}

// Written returns every byte accepted by Send, in order.
func (s *Socket) Written() []byte { return s.written }

// Closed reports how many times Close ran.
func (s *Socket) Closed() int { return s.closed }

type acceptItem struct {
	sock *Socket
	err  error
}

// Listener is a scripted conn.Listener.
type Listener struct {
	fd     int
	queue  []acceptItem
	nextFD int
	closed bool
	Addr   sockaddr.Address
}

var _ conn.Listener = (*Listener)(nil)

// NewListener creates a fake listener on fd; peers get fds above it.
func NewListener(fd int) *Listener { return &Listener{fd: fd, nextFD: fd + 1} }

// AddPeer queues a peer and returns its socket.
func (l *Listener) AddPeer() *Socket {
	s := NewSocket(l.nextFD)
	l.nextFD++
	l.queue = append(l.queue, acceptItem{sock: s})
	return s
}

// AddError queues an accept failure.
func (l *Listener) AddError(err error) { l.queue = append(l.queue, acceptItem{err: err}) }

func (l *Listener) FD() int                   { return l.fd }
func (l *Listener) Address() sockaddr.Address { return l.Addr }

func (l *Listener) Accept() (conn.Socket, error) {
	if len(l.queue) == 0 {
		return nil, nil
	}
	it := l.queue[0]
	l.queue = l.queue[1:]
	if it.err != nil {
		return nil, it.err
	}
	return it.sock, nil
}

func (l *Listener) Close() error {
	l.closed = true
	return nil
}

// Closed reports whether Close ran.
func (l *Listener) Closed() bool { return l.closed }
