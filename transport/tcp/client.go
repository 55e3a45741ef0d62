// File: transport/tcp/client.go
// Author: momentics <momentics@gmail.com>
//
// TCP client: connect to resolved candidates in order, first success wins.

package tcp

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/sockaddr"
)

// pollSlice bounds one poll(2) so cancellation is observed.
const pollSlice = 100 * time.Millisecond

// Dialer holds client options. The zero value is usable.
type Dialer struct {
	// Timeout bounds each candidate's connect; 0 relies on ctx alone.
	Timeout     time.Duration
	LowLatency  bool
	ReadChunk   int
	ConnOptions []conn.Option
}

// Dial connects with a zero Dialer.
func Dial(ctx context.Context, r api.Reactor, host, service string, opts ...conn.Option) (*conn.Connection, error) {
	d := Dialer{ConnOptions: opts}
	return d.Dial(ctx, r, host, service)
}

// Dial resolves host and service and connects to the first reachable candidate.
func (d *Dialer) Dial(ctx context.Context, r api.Reactor, host, service string) (*conn.Connection, error) {
	cands, err := sockaddr.Resolve(ctx, host, service, sockaddr.TypeTCP)
	if err != nil {
		return nil, err
	}
	return d.DialCandidates(ctx, r, cands)
}

// DialAddress connects to one address.
func (d *Dialer) DialAddress(ctx context.Context, r api.Reactor, addr sockaddr.Address) (*conn.Connection, error) {
	return d.DialCandidates(ctx, r, []sockaddr.Address{addr})
}

// DialCandidates tries cands in order. The connect itself is synchronous,
// bounded by ctx and Timeout; the resulting connection is non-blocking.
// DialAsync is the variant that never blocks the caller.
func (d *Dialer) DialCandidates(ctx context.Context, r api.Reactor, cands []sockaddr.Address) (*conn.Connection, error) {
	if len(cands) == 0 {
		return nil, api.Errorf(api.ErrCodeNoCandidates, "connect", "empty candidate list")
	}
	var errs error
	for _, addr := range cands {
		h, err := d.connect(ctx, addr)
		if err != nil {
			errs = multierr.Append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		local, err := fd.LocalAddress(h)
		if err != nil {
			h.Close()
			errs = multierr.Append(errs, err)
			continue
		}
		s := conn.NewStreamSocket(h, d.ReadChunk, local, addr)
		return conn.New(r, s, d.ConnOptions...)
	}
	return nil, api.NewError(api.ErrCodeUnreachable, "connect", errs)
}

func (d *Dialer) connect(ctx context.Context, addr sockaddr.Address) (*fd.Handle, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	h, inProgress, err := d.open(addr)
	if err != nil {
		return nil, err
	}
	if inProgress {
		if err := waitConnected(ctx, h); err != nil {
			h.Close()
			return nil, unreachable(addr, err)
		}
	}
	return h, nil
}

// open creates a non-blocking socket and starts connecting it to addr.
// inProgress reports a connect that completes later.
func (d *Dialer) open(addr sockaddr.Address) (h *fd.Handle, inProgress bool, err error) {
	if !addr.IsIP() {
		return nil, false, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "connect", "%s", addr)
	}
	sa, err := addr.Sockaddr()
	if err != nil {
		return nil, false, err
	}
	h, err = fd.Socket(addr.Family(), unix.SOCK_STREAM|unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, false, err
	}
	if d.LowLatency {
		if err := fd.SetLowLatency(h, true); err != nil {
			h.Close()
			return nil, false, err
		}
	}
	err = unix.Connect(h.Get(), sa)
	if errors.Is(err, unix.EINPROGRESS) {
		return h, true, nil
	}
	if err != nil {
		h.Close()
		return nil, false, unreachable(addr, err)
	}
	return h, false, nil
}

func unreachable(addr sockaddr.Address, err error) error {
	return api.NewError(api.ErrCodeUnreachable, "connect", err).WithContext("addr", addr.String())
}

func waitConnected(ctx context.Context, h *fd.Handle) error {
	pfd := []unix.PollFd{{Fd: int32(h.Get()), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := pollSlice
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < wait {
				wait = rem
			}
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		n, err := unix.Poll(pfd, int(wait/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n > 0 {
			return fd.PendingError(h)
		}
	}
}
