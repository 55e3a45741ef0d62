//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"context"
	"errors"
	"time"

	"github.com/momentics/hioload-netio/api"
)

var errUnsupported = errors.New("reactor: this platform is not supported")

// Reactor is unavailable on this platform.
type Reactor struct{}

// New returns an error for unsupported platforms.
func New(...Option) (*Reactor, error) { return nil, errUnsupported }

func (*Reactor) Register(int, api.EventMask, api.Handler) error { return errUnsupported }
func (*Reactor) Modify(int, api.EventMask) error                { return errUnsupported }
func (*Reactor) Unregister(int) error                           { return errUnsupported }
func (*Reactor) Submit(func()) error                            { return errUnsupported }
func (*Reactor) Poll(time.Duration) (int, error)                { return 0, errUnsupported }
func (*Reactor) Run(context.Context) error                      { return errUnsupported }
func (*Reactor) Stop()                                          {}
func (*Reactor) Close() error                                   { return nil }
func (*Reactor) Len() int                                       { return 0 }
