// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"fmt"

	"github.com/momentics/hioload-netio/api"
)

type registration struct {
	handler  api.Handler
	interest api.EventMask
}

// Reactor records registrations and lets tests fire readiness by hand.
type Reactor struct {
	regs     map[int]*registration
	Modifies int
	// RegisterErr, when set, fails the next Register.
	RegisterErr error
}

// NewReactor creates an empty fake reactor.
func NewReactor() *Reactor {
	return &Reactor{regs: make(map[int]*registration)}
}

func (r *Reactor) Register(fd int, interest api.EventMask, h api.Handler) error {
	if err := r.RegisterErr; err != nil {
		r.RegisterErr = nil
		return err
	}
	if _, ok := r.regs[fd]; ok {
		return fmt.Errorf("fake reactor: fd %d already registered", fd)
	}
	r.regs[fd] = &registration{handler: h, interest: interest}
	return nil
}

func (r *Reactor) Modify(fd int, interest api.EventMask) error {
	reg, ok := r.regs[fd]
	if !ok {
		return fmt.Errorf("fake reactor: fd %d not registered", fd)
	}
	reg.interest = interest
	r.Modifies++
	return nil
}

func (r *Reactor) Unregister(fd int) error {
	delete(r.regs, fd)
	return nil
}

// Submit runs fn inline.
func (r *Reactor) Submit(fn func()) error {
	fn()
	return nil
}

// Registered reports whether fd is watched.
func (r *Reactor) Registered(fd int) bool {
	_, ok := r.regs[fd]
	return ok
}

// Interest returns the current interest mask of fd.
func (r *Reactor) Interest(fd int) api.EventMask {
	if reg, ok := r.regs[fd]; ok {
		return reg.interest
	}
	return 0
}

// Fire delivers ev to fd's handler; unregistered fds are ignored.
func (r *Reactor) Fire(fd int, ev api.EventMask) {
	if reg, ok := r.regs[fd]; ok {
		reg.handler(fd, ev)
	}
}

// FireInterest delivers the currently armed interest, as a level-triggered
// reactor would for an always-ready socket.
func (r *Reactor) FireInterest(fd int) {
	if reg, ok := r.regs[fd]; ok && reg.interest != 0 {
		reg.handler(fd, reg.interest)
	}
}
