// File: conn/connection.go
// Author: momentics <momentics@gmail.com>
//
// Connection: one socket, one outbound queue, one inbound callback,
// driven by reactor readiness.

package conn

import (
	"io"

	"go.uber.org/zap"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/control"
	"github.com/momentics/hioload-netio/internal/logging"
	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/sockaddr"
)

// DataHandler receives inbound chunks in OS delivery order.
type DataHandler func(r *iobuf.Record)

// ErrorHandler is told about a fatal per-event failure before teardown.
type ErrorHandler func(c *Connection, err error)

// CloseHook runs exactly once when the connection terminates.
type CloseHook func(status api.ExitStatus)

// Connection is the per-socket state machine.
// Inactive connections (nil socket) queue writes and never touch the reactor.
type Connection struct {
	reactor api.Reactor
	sock    Socket
	state   api.ConnState

	queue   *iobuf.Queue
	onData  DataHandler
	onError ErrorHandler
	onClose []CloseHook

	rateLimit uint
	burst     uint
	partial   bool
	writing   bool
	lingering bool
	interest  api.EventMask

	local, peer sockaddr.Address
	log         *zap.Logger
	metrics     *control.Metrics
}

// Option customizes a Connection before it registers with the reactor.
type Option func(*Connection)

// WithDataHandler installs the inbound callback up front.
func WithDataHandler(fn DataHandler) Option {
	return func(c *Connection) { c.onData = fn }
}

// WithErrorHandler installs the error callback.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(c *Connection) { c.onError = fn }
}

// WithCloseHook adds a close hook.
func WithCloseHook(fn CloseHook) Option {
	return func(c *Connection) { c.onClose = append(c.onClose, fn) }
}

// WithRateLimit caps write attempts per burst interval; 0 is unlimited.
func WithRateLimit(n uint) Option {
	return func(c *Connection) { c.rateLimit = n }
}

// WithPartialWrites controls whether a partially sent record is retried.
// When disabled, the unsent remainder is dropped. Default true.
func WithPartialWrites(on bool) Option {
	return func(c *Connection) { c.partial = on }
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// WithMetrics overrides the metrics sink; nil disables counting.
func WithMetrics(m *control.Metrics) Option {
	return func(c *Connection) { c.metrics = m }
}

// New wraps s. A nil s yields an Inactive connection. Otherwise the socket
// is registered with r, with interest derived from the installed handlers.
// On registration failure s is closed.
func New(r api.Reactor, s Socket, opts ...Option) (*Connection, error) {
	c := &Connection{
		reactor: r,
		queue:   iobuf.NewQueue(),
		partial: true,
		metrics: control.DefaultMetrics(),
		state:   api.StateInactive,
	}
	for _, fn := range opts {
		fn(c)
	}
	c.log = logging.Or(c.log, "conn")
	if s == nil {
		return c, nil
	}
	if ep, ok := s.(Endpoints); ok {
		c.local, c.peer = ep.LocalAddress(), ep.PeerAddress()
	}
	c.interest = c.wantInterest()
	if err := r.Register(s.FD(), c.interest, c.handle); err != nil {
		s.Close()
		return nil, api.NewError(api.ErrCodeHandleCreationFailed, "register", err)
	}
	c.sock = s
	c.state = api.StateActive
	c.log = c.log.With(zap.Int("fd", s.FD()))
	c.metrics.Opened()
	c.log.Debug("connection active",
		zap.Stringer("local", c.local), zap.Stringer("peer", c.peer))
	return c, nil
}

// State reports the lifecycle stage.
func (c *Connection) State() api.ConnState { return c.state }

// Active reports State() == StateActive.
func (c *Connection) Active() bool { return c.state == api.StateActive }

// LocalAddress is the locally bound address, zero if unknown.
func (c *Connection) LocalAddress() sockaddr.Address { return c.local }

// PeerAddress is the remote address, zero if unknown or connectionless.
func (c *Connection) PeerAddress() sockaddr.Address { return c.peer }

// FD returns the descriptor, or -1 when not active.
func (c *Connection) FD() int {
	if c.sock == nil || c.state != api.StateActive {
		return -1
	}
	return c.sock.FD()
}

// SetDataCallback replaces the inbound callback. nil stops reading.
func (c *Connection) SetDataCallback(fn func(*iobuf.Record)) {
	c.onData = fn
	c.updateInterest()
}

// SetErrorCallback replaces the error callback.
func (c *Connection) SetErrorCallback(fn ErrorHandler) { c.onError = fn }

// OnClose adds a close hook. On an already closed connection it is ignored.
func (c *Connection) OnClose(fn CloseHook) {
	if c.state == api.StateClosing {
		return
	}
	c.onClose = append(c.onClose, fn)
}

// SetRateLimit sets write attempts allowed per burst; 0 is unlimited.
func (c *Connection) SetRateLimit(n uint) {
	c.rateLimit = n
	c.updateInterest()
}

// RateLimit returns the configured limit.
func (c *Connection) RateLimit() uint { return c.rateLimit }

// Burst returns write attempts since the last reset.
func (c *Connection) Burst() uint { return c.burst }

// ResetBurst zeroes the burst counter and re-arms writable interest.
func (c *Connection) ResetBurst() {
	c.burst = 0
	c.updateInterest()
}

// SetPartialWrites toggles the partial-write policy.
func (c *Connection) SetPartialWrites(on bool) { c.partial = on }

// Write enqueues r. Empty records are ignored.
func (c *Connection) Write(r *iobuf.Record) error {
	if c.state == api.StateClosing {
		return api.Errorf(api.ErrCodeWriteFailed, "write", "connection closed")
	}
	if c.lingering {
		return api.Errorf(api.ErrCodeWriteFailed, "write", "connection closing")
	}
	c.queue.PushBack(r)
	c.updateInterest()
	return nil
}

// WriteBytes enqueues a copy of p.
func (c *Connection) WriteBytes(p []byte) error { return c.Write(iobuf.NewRecord(p)) }

// WriteString enqueues s.
func (c *Connection) WriteString(s string) error { return c.Write(iobuf.NewRecordString(s)) }

// QueueLen is the number of records waiting to be sent.
func (c *Connection) QueueLen() int { return c.queue.Len() }

// Drained reports an empty queue with no write in progress.
func (c *Connection) Drained() bool { return c.queue.Empty() && !c.writing }

// Close terminates with ExitNoError.
func (c *Connection) Close() { c.shutdown(api.ExitNoError) }

// CloseWhenDrained stops reading and closes with ExitNoError once every
// queued record has been sent. Later writes are rejected. An already
// drained connection closes immediately.
func (c *Connection) CloseWhenDrained() {
	if c.state != api.StateActive || c.Drained() {
		c.shutdown(api.ExitNoError)
		return
	}
	c.lingering = true
	c.updateInterest()
}

// Lingering reports a pending CloseWhenDrained.
func (c *Connection) Lingering() bool { return c.lingering && c.state == api.StateActive }

// CloseWithStatus terminates with the given status, e.g. ExitTimeout from
// an external idle timer.
func (c *Connection) CloseWithStatus(status api.ExitStatus) { c.shutdown(status) }

func (c *Connection) canWrite() bool {
	return c.rateLimit == 0 || c.burst < c.rateLimit
}

// wantInterest: readable iff a callback is installed, writable iff the
// queue holds data and the burst allows another attempt.
func (c *Connection) wantInterest() api.EventMask {
	var m api.EventMask
	if c.onData != nil && !c.lingering {
		m |= api.EventReadable
	}
	if !c.queue.Empty() && c.canWrite() {
		m |= api.EventWritable
	}
	return m
}

func (c *Connection) updateInterest() {
	if c.state != api.StateActive {
		return
	}
	want := c.wantInterest()
	if want == c.interest {
		return
	}
	if err := c.reactor.Modify(c.sock.FD(), want); err != nil {
		c.fail(api.NewError(api.ErrCodeSetModeFailed, "modify interest", err))
		return
	}
	c.interest = want
}

// handle dispatches error, then read, then write, then recomputes interest.
func (c *Connection) handle(_ int, ev api.EventMask) {
	if c.state != api.StateActive {
		return
	}
	if ev&api.EventError != 0 {
		err := c.sock.PendingError()
		c.fail(api.NewError(api.ErrCodeReadFailed, "poll", err))
		return
	}
	if ev&api.EventReadable != 0 && c.onData != nil && !c.lingering {
		c.readOnce()
		if c.state != api.StateActive {
			return
		}
	}
	if ev&api.EventWritable != 0 && c.canWrite() {
		c.writeOnce()
		if c.state != api.StateActive {
			return
		}
	}
	if c.lingering && c.Drained() {
		c.shutdown(api.ExitNoError)
		return
	}
	c.updateInterest()
}

func (c *Connection) readOnce() {
	r, err := c.sock.Recv()
	switch {
	case err == io.EOF:
		c.log.Debug("closed by peer")
		c.shutdown(api.ExitNoError)
		return
	case err != nil:
		c.fail(api.NewError(api.ErrCodeReadFailed, "read", err))
		return
	case r == nil:
		return
	}
	c.metrics.BytesReceived(r.Size())
	c.onData(r)
}

// writeOnce performs one write of the head record. A record that is not
// fully sent goes back to the front so FIFO order holds.
func (c *Connection) writeOnce() {
	r := c.queue.PopFront()
	if r.Empty() {
		return
	}
	c.writing = true
	c.burst++
	n, err := c.sock.Send(r)
	c.writing = false

	if err != nil {
		if !wouldBlock(err) {
			c.fail(api.NewError(api.ErrCodeWriteFailed, "write", err))
			return
		}
		c.queue.PushFront(r)
		return
	}
	r.Advance(n)
	c.metrics.BytesSent(n)
	if c.partial {
		c.queue.PushFront(r)
	} else if !r.Empty() {
		c.log.Debug("dropping unsent remainder", zap.Int("bytes", r.Size()))
	}
}

func (c *Connection) fail(err error) {
	c.metrics.IOError()
	c.log.Warn("connection failed", zap.Error(err))
	if c.onError != nil {
		c.onError(c, err)
	}
	c.shutdown(api.ExitNoError)
}

func (c *Connection) shutdown(status api.ExitStatus) {
	if c.state == api.StateClosing {
		return
	}
	wasActive := c.state == api.StateActive
	c.state = api.StateClosing
	if wasActive {
		if err := c.reactor.Unregister(c.sock.FD()); err != nil {
			c.log.Warn("unregister failed", zap.Error(err))
		}
		if err := c.sock.Close(); err != nil {
			c.log.Warn("close failed", zap.Error(err))
		}
		c.metrics.Closed()
		c.log.Debug("connection closed", zap.Stringer("status", status))
	}
	hooks := c.onClose
	c.onClose = nil
	for _, fn := range hooks {
		fn(status)
	}
}
