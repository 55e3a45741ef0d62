// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ExitStatus is delivered to close hooks when a connection terminates.
type ExitStatus int

const (
	ExitNoError ExitStatus = iota
	ExitTimeout
)

func (s ExitStatus) String() string {
	switch s {
	case ExitNoError:
		return "no error"
	case ExitTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ConnState describes the lifecycle stage of a connection.
type ConnState int

const (
	StateInactive ConnState = iota
	StateActive
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
