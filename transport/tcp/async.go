// File: transport/tcp/async.go
// Author: momentics <momentics@gmail.com>
//
// Non-blocking TCP connect completed on writable readiness.

package tcp

import (
	"context"

	"go.uber.org/multierr"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/sockaddr"
)

// ConnectHandler receives the outcome of DialAsync from reactor dispatch.
// Exactly one of c and err is non-nil.
type ConnectHandler func(c *conn.Connection, err error)

type submitter interface {
	Submit(fn func()) error
}

// Pending is a connect in flight. Its methods run on the reactor goroutine.
type Pending struct {
	d     *Dialer
	r     api.Reactor
	cands []sockaddr.Address
	next  int
	done  ConnectHandler

	h    *fd.Handle
	addr sockaddr.Address
	errs error

	finished bool
	release  func()
}

// DialAsync starts connecting to cands in order and returns at once. Each
// candidate's socket waits for writable readiness; SO_ERROR then decides
// between success and moving on to the next candidate. done runs exactly
// once unless the attempt is cancelled. Timeout and ctx bound the whole
// attempt when r can run submitted tasks. Candidates that all fail before
// reaching the reactor are reported synchronously. Call it from the reactor
// goroutine, or before the reactor runs.
func (d *Dialer) DialAsync(ctx context.Context, r api.Reactor, cands []sockaddr.Address, done ConnectHandler) (*Pending, error) {
	if len(cands) == 0 {
		return nil, api.Errorf(api.ErrCodeNoCandidates, "connect", "empty candidate list")
	}
	p := &Pending{d: d, r: r, cands: cands, done: done}
	if s, ok := r.(submitter); ok {
		var cancel context.CancelFunc = func() {}
		if d.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		}
		stop := context.AfterFunc(ctx, func() {
			_ = s.Submit(func() { p.abort(ctx.Err()) })
		})
		p.release = func() {
			stop()
			cancel()
		}
	}
	if err := p.advance(); err != nil {
		p.finished = true
		if p.release != nil {
			p.release()
		}
		return nil, err
	}
	return p, nil
}

// DialHostAsync resolves host and service, then calls DialAsync.
func (d *Dialer) DialHostAsync(ctx context.Context, r api.Reactor, host, service string, done ConnectHandler) (*Pending, error) {
	cands, err := sockaddr.Resolve(ctx, host, service, sockaddr.TypeTCP)
	if err != nil {
		return nil, err
	}
	return d.DialAsync(ctx, r, cands, done)
}

// Address is the candidate currently being connected.
func (p *Pending) Address() sockaddr.Address { return p.addr }

// Done reports whether the outcome was delivered or the attempt cancelled.
func (p *Pending) Done() bool { return p.finished }

// Cancel abandons the attempt without calling done.
func (p *Pending) Cancel() {
	if p.finished {
		return
	}
	p.finished = true
	p.drop()
	if p.release != nil {
		p.release()
	}
}

// advance registers the next candidate that gets as far as an in-progress
// connect. It fails once the list is exhausted.
func (p *Pending) advance() error {
	for p.next < len(p.cands) {
		addr := p.cands[p.next]
		p.next++
		h, _, err := p.d.open(addr)
		if err != nil {
			p.errs = multierr.Append(p.errs, err)
			continue
		}
		// an immediate connect also reports writable, so both paths meet in handle
		if err := p.r.Register(h.Get(), api.EventWritable, p.handle); err != nil {
			h.Close()
			p.errs = multierr.Append(p.errs, api.NewError(api.ErrCodeHandleCreationFailed, "register", err))
			continue
		}
		p.h, p.addr = h, addr
		return nil
	}
	return api.NewError(api.ErrCodeUnreachable, "connect", p.errs)
}

func (p *Pending) handle(_ int, _ api.EventMask) {
	if p.finished || p.h == nil {
		return
	}
	if err := p.r.Unregister(p.h.Get()); err != nil {
		p.errs = multierr.Append(p.errs, err)
	}
	err := fd.PendingError(p.h)
	if err == nil {
		var local sockaddr.Address
		if local, err = fd.LocalAddress(p.h); err == nil {
			s := conn.NewStreamSocket(p.h, p.d.ReadChunk, local, p.addr)
			p.h = nil
			c, cerr := conn.New(p.r, s, p.d.ConnOptions...)
			p.finish(c, cerr)
			return
		}
	}
	p.errs = multierr.Append(p.errs, unreachable(p.addr, err))
	p.h.Close()
	p.h = nil
	if aerr := p.advance(); aerr != nil {
		p.finish(nil, aerr)
	}
}

func (p *Pending) abort(cause error) {
	if p.finished {
		return
	}
	p.drop()
	p.errs = multierr.Append(p.errs, cause)
	p.finish(nil, api.NewError(api.ErrCodeUnreachable, "connect", p.errs))
}

func (p *Pending) drop() {
	if p.h == nil {
		return
	}
	_ = p.r.Unregister(p.h.Get())
	p.h.Close()
	p.h = nil
}

func (p *Pending) finish(c *conn.Connection, err error) {
	p.finished = true
	if p.release != nil {
		p.release()
	}
	p.done(c, err)
}
