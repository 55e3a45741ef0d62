//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/internal/logging"
)

var _ api.Reactor = (*Reactor)(nil)

// ErrClosed is returned by operations on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

type watch struct {
	handler  api.Handler
	interest api.EventMask
	gen      int32
}

// Reactor is a level-triggered epoll reactor.
type Reactor struct {
	epfd   int
	wakefd int
	opts   options
	log    *zap.Logger

	watches *xsync.MapOf[int, *watch]

	mu    sync.Mutex
	tasks *queue.Queue

	events  []unix.EpollEvent
	nextGen atomic.Int32
	stopped atomic.Bool
	closed  atomic.Bool
}

// New creates an epoll instance with an eventfd for cross-goroutine wakeups.
func New(opts ...Option) (*Reactor, error) {
	o := buildOptions(opts)
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &Reactor{
		epfd:    epfd,
		wakefd:  wakefd,
		opts:    o,
		log:     logging.Or(o.log, "reactor"),
		watches: xsync.NewMapOf[int, *watch](),
		tasks:   queue.New(),
		events:  make([]unix.EpollEvent, o.maxEvents),
	}, nil
}

func toEpoll(m api.EventMask) uint32 {
	var ev uint32
	if m&api.EventReadable != 0 {
		ev |= unix.EPOLLIN
	}
	if m&api.EventWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// fromEpoll maps raw events. A hangup is delivered as Readable when
// readable interest is armed, so the read observes EOF; otherwise as Error.
func fromEpoll(raw uint32, interest api.EventMask) api.EventMask {
	var m api.EventMask
	if raw&unix.EPOLLIN != 0 {
		m |= api.EventReadable
	}
	if raw&unix.EPOLLOUT != 0 {
		m |= api.EventWritable
	}
	if raw&unix.EPOLLERR != 0 {
		m |= api.EventError
	}
	if raw&unix.EPOLLHUP != 0 {
		if interest&api.EventReadable != 0 {
			m |= api.EventReadable
		} else {
			m |= api.EventError
		}
	}
	return m
}

// Register adds a file descriptor to the epoll watch list.
func (r *Reactor) Register(fd int, interest api.EventMask, h api.Handler) error {
	if r.closed.Load() {
		return ErrClosed
	}
	// the generation tells a reused descriptor apart from its predecessor
	// when both show up in one epoll batch
	gen := r.nextGen.Add(1)
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd), Pad: gen}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.watches.Store(fd, &watch{handler: h, interest: interest, gen: gen})
	return nil
}

// Modify replaces the interest mask of a registered descriptor.
func (r *Reactor) Modify(fd int, interest api.EventMask) error {
	w, ok := r.watches.Load(fd)
	if !ok {
		return fmt.Errorf("epoll ctl mod: fd %d not registered", fd)
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd), Pad: w.gen}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	w.interest = interest
	return nil
}

// Unregister removes a file descriptor from the epoll watch list.
func (r *Reactor) Unregister(fd int) error {
	if _, ok := r.watches.LoadAndDelete(fd); !ok {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Len is the number of registered descriptors.
func (r *Reactor) Len() int { return r.watches.Size() }

// Submit queues fn to run on the reactor goroutine. Safe from any goroutine.
func (r *Reactor) Submit(fn func()) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	r.tasks.Add(fn)
	r.mu.Unlock()
	return r.wake()
}

func (r *Reactor) wake() error {
	var one = [8]byte{1}
	if _, err := unix.Write(r.wakefd, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

// Poll waits up to timeout (negative blocks) and dispatches ready events
// and submitted tasks. It returns the number of events dispatched.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		if fd == r.wakefd {
			r.drainWake()
			continue
		}
		// a previous handler in this batch may have unregistered fd,
		// or closed it and registered a new descriptor with the same number
		w, ok := r.watches.Load(fd)
		if !ok || w.gen != ev.Pad {
			continue
		}
		r.call(fd, w.handler, fromEpoll(ev.Events, w.interest))
		dispatched++
	}
	r.runTasks()
	return dispatched, nil
}

func (r *Reactor) call(fd int, h api.Handler, events api.EventMask) {
	// recover keeps one faulty handler from stopping the loop
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panic", zap.Int("fd", fd), zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	h(fd, events)
}

func (r *Reactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (r *Reactor) runTasks() {
	r.mu.Lock()
	n := r.tasks.Length()
	if n == 0 {
		r.mu.Unlock()
		return
	}
	batch := make([]func(), 0, n)
	for r.tasks.Length() > 0 {
		batch = append(batch, r.tasks.Remove().(func()))
	}
	r.mu.Unlock()

	for _, fn := range batch {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("task panic", zap.Any("panic", p), zap.Stack("stack"))
				}
			}()
			fn()
		}()
	}
}

// Run polls until ctx is done or Stop is called. A Stop issued before Run
// makes Run return without polling. The stop request is consumed on return.
func (r *Reactor) Run(ctx context.Context) error {
	defer r.stopped.Store(false)
	release := context.AfterFunc(ctx, r.Stop)
	defer release()

	for !r.stopped.Load() {
		if _, err := r.Poll(r.opts.pollTimeout); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Stop makes Run return after the current dispatch. Safe from any goroutine.
func (r *Reactor) Stop() {
	r.stopped.Store(true)
	if err := r.wake(); err != nil {
		r.log.Warn("wake failed", zap.Error(err))
	}
}

// Close releases the epoll and eventfd descriptors.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return multierr.Combine(unix.Close(r.wakefd), unix.Close(r.epfd))
}
