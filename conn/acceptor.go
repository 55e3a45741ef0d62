// File: conn/acceptor.go
// Author: momentics <momentics@gmail.com>
//
// Acceptor: readable listening socket => one accept => new Connection,
// with an optional live-connection ceiling and overflow path.

package conn

import (
	"errors"
	"sync/atomic"
	"weak"

	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/control"
	"github.com/momentics/hioload-netio/internal/logging"
	"github.com/momentics/hioload-netio/sockaddr"
)

// AcceptHandler receives accepted (or overflowing) peers.
type AcceptHandler func(a *Acceptor, c *Connection)

// AcceptErrorHandler is told about failed accepts; the listener stays up.
type AcceptErrorHandler func(a *Acceptor, err error)

// Acceptor owns a listening socket.
type Acceptor struct {
	reactor api.Reactor
	l       Listener

	onAccept   AcceptHandler
	onOverflow AcceptHandler
	onError    AcceptErrorHandler
	peerOpts   []Option

	max    uint
	live   atomic.Int64
	closed bool
	self   weak.Pointer[Acceptor]

	log     *zap.Logger
	metrics *control.Metrics
}

// AcceptorOption customizes an Acceptor.
type AcceptorOption func(*Acceptor)

// WithMaxConnections sets the live-connection ceiling; 0 is unlimited.
func WithMaxConnections(n uint) AcceptorOption {
	return func(a *Acceptor) { a.max = n }
}

// WithOverflowHandler receives peers beyond the ceiling. Without one they
// are closed immediately.
func WithOverflowHandler(h AcceptHandler) AcceptorOption {
	return func(a *Acceptor) { a.onOverflow = h }
}

// WithAcceptErrorHandler receives accept failures.
func WithAcceptErrorHandler(h AcceptErrorHandler) AcceptorOption {
	return func(a *Acceptor) { a.onError = h }
}

// WithPeerOptions are applied to every accepted Connection.
func WithPeerOptions(opts ...Option) AcceptorOption {
	return func(a *Acceptor) { a.peerOpts = append(a.peerOpts, opts...) }
}

// WithAcceptorLogger overrides the component logger.
func WithAcceptorLogger(l *zap.Logger) AcceptorOption {
	return func(a *Acceptor) { a.log = l }
}

// WithAcceptorMetrics overrides the metrics sink.
func WithAcceptorMetrics(m *control.Metrics) AcceptorOption {
	return func(a *Acceptor) { a.metrics = m }
}

// NewAcceptor registers l for readable events. On failure l is closed.
func NewAcceptor(r api.Reactor, l Listener, onAccept AcceptHandler, opts ...AcceptorOption) (*Acceptor, error) {
	a := &Acceptor{
		reactor:  r,
		l:        l,
		onAccept: onAccept,
		metrics:  control.DefaultMetrics(),
	}
	for _, fn := range opts {
		fn(a)
	}
	a.log = logging.Or(a.log, "acceptor").With(zap.Stringer("addr", l.Address()))
	a.self = weak.Make(a)
	if err := r.Register(l.FD(), api.EventReadable, a.handle); err != nil {
		l.Close()
		return nil, api.NewError(api.ErrCodeListenFailed, "register", err)
	}
	a.log.Debug("acceptor listening")
	return a, nil
}

// Address is the bound address of the listening socket.
func (a *Acceptor) Address() sockaddr.Address { return a.l.Address() }

// Count is the number of live accepted connections.
func (a *Acceptor) Count() int { return int(a.live.Load()) }

// Max returns the ceiling, 0 when unlimited.
func (a *Acceptor) Max() uint { return a.max }

// SetMaxConnections changes the ceiling for future accepts.
func (a *Acceptor) SetMaxConnections(n uint) { a.max = n }

// SetAcceptHandler replaces the accept handler.
func (a *Acceptor) SetAcceptHandler(h AcceptHandler) { a.onAccept = h }

// SetOverflowHandler replaces the overflow handler.
func (a *Acceptor) SetOverflowHandler(h AcceptHandler) { a.onOverflow = h }

// SetErrorHandler replaces the accept error handler.
func (a *Acceptor) SetErrorHandler(h AcceptErrorHandler) { a.onError = h }

// Close stops accepting and releases the listening socket. Connections
// already handed out stay open.
func (a *Acceptor) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.reactor.Unregister(a.l.FD()); err != nil {
		a.log.Warn("unregister failed", zap.Error(err))
	}
	return a.l.Close()
}

func (a *Acceptor) handle(_ int, ev api.EventMask) {
	if a.closed {
		return
	}
	if ev&api.EventError != 0 {
		a.report(api.NewError(api.ErrCodeAcceptFailed, "poll", nil))
		return
	}
	if ev&api.EventReadable == 0 {
		return
	}
	s, err := a.l.Accept()
	if err != nil {
		a.report(err)
		return
	}
	if s == nil {
		return
	}
	c, err := New(a.reactor, s, a.peerOpts...)
	if err != nil {
		a.report(err)
		return
	}

	if a.max == 0 || uint(a.live.Load()) < a.max {
		a.live.Add(1)
		a.metrics.Accepted()
		c.OnClose(a.releaseHook())
		a.log.Debug("accepted", zap.Stringer("peer", c.PeerAddress()), zap.Int("live", a.Count()))
		if a.onAccept != nil {
			a.onAccept(a, c)
		} else {
			c.Close()
		}
		return
	}

	a.metrics.Overflowed()
	a.log.Info("connection limit reached", zap.Uint("max", a.max), zap.Stringer("peer", c.PeerAddress()))
	if a.onOverflow != nil {
		a.onOverflow(a, c)
		return
	}
	c.Close()
}

// releaseHook decrements the live count through a weak reference, so a
// lingering connection never keeps the acceptor reachable.
func (a *Acceptor) releaseHook() CloseHook {
	self := a.self
	var done bool
	return func(api.ExitStatus) {
		if done {
			return
		}
		done = true
		if acc := self.Value(); acc != nil {
			acc.live.Add(-1)
		}
	}
}

func (a *Acceptor) report(err error) {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		err = api.NewError(api.ErrCodeAcceptFailed, "accept", err)
	}
	a.metrics.AcceptError()

	var errno unix.Errno
	if errors.As(err, &errno) && tec.ErrIsTemporary(errno) {
		a.log.Warn("temporary accept failure", zap.Error(err))
	} else {
		a.log.Error("accept failure", zap.Error(err))
	}
	if a.onError != nil {
		a.onError(a, err)
	}
}
