// File: fd/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Exclusive-ownership wrapper around an OS socket descriptor.

package fd

import (
	"go.uber.org/zap"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/internal/logging"
)

// Invalid is the "no handle" sentinel.
const Invalid = -1

// noCopy trips go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle owns at most one descriptor and closes it exactly once.
// Pass *Handle; transfer with Move.
type Handle struct {
	_  noCopy
	fd int
}

// New takes ownership of raw.
func New(raw int) *Handle { return &Handle{fd: raw} }

// Null returns a handle that owns nothing.
func Null() *Handle { return &Handle{fd: Invalid} }

// Get peeks at the descriptor without transferring ownership.
func (h *Handle) Get() int {
	if h == nil {
		return Invalid
	}
	return h.fd
}

// Valid reports whether a descriptor is owned.
func (h *Handle) Valid() bool { return h != nil && h.fd >= 0 }

// Release relinquishes ownership; the caller must close the result.
// A nil handle yields Invalid.
func (h *Handle) Release() int {
	if h == nil {
		return Invalid
	}
	raw := h.fd
	h.fd = Invalid
	return raw
}

// Reset closes the current descriptor, if any, and adopts raw.
// A nil handle cannot own raw, so raw is closed.
func (h *Handle) Reset(raw int) {
	if h == nil {
		New(raw).Close()
		return
	}
	h.Close()
	h.fd = raw
}

// Move transfers ownership into a new Handle, leaving h invalid.
func (h *Handle) Move() *Handle { return New(h.Release()) }

// Close releases the descriptor. Closing an invalid handle is a no-op;
// close failures are logged only.
func (h *Handle) Close() {
	if !h.Valid() {
		return
	}
	raw := h.Release()
	if err := unix.Close(raw); err != nil {
		logging.Component("fd").Error("close failed", zap.Int("fd", raw), zap.Error(err))
	}
}
