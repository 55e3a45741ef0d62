// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Readiness reactor contract consumed by connections and acceptors.

package api

import "strings"

// EventMask is a bitset of readiness conditions.
// Interest masks use Readable and Writable; delivered events may add Error.
type EventMask uint8

const (
	EventReadable EventMask = 1 << iota
	EventWritable
	EventError
)

func (m EventMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&EventReadable != 0 {
		parts = append(parts, "readable")
	}
	if m&EventWritable != 0 {
		parts = append(parts, "writable")
	}
	if m&EventError != 0 {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}

// Handler receives readiness events for one descriptor.
type Handler func(fd int, events EventMask)

// Reactor multiplexes descriptor readiness and dispatches to handlers.
// All handlers run on the reactor's single goroutine.
type Reactor interface {
	Register(fd int, interest EventMask, h Handler) error
	Modify(fd int, interest EventMask) error
	Unregister(fd int) error
}
