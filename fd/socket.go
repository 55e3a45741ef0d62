// File: fd/socket.go
// Author: momentics <momentics@gmail.com>
//
// Socket creation and per-descriptor options.

package fd

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/sockaddr"
)

// Socket creates a close-on-exec socket for family and type (unix.SOCK_*).
func Socket(family sockaddr.Family, sotype int) (*Handle, error) {
	raw, err := unix.Socket(family.Domain(), sotype|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, api.NewError(api.ErrCodeHandleCreationFailed, "socket", err).
			WithContext("family", family.String())
	}
	return New(raw), nil
}

// SetNonblock places the descriptor in non-blocking mode.
func SetNonblock(h *Handle) error {
	if err := unix.SetNonblock(h.Get(), true); err != nil {
		return api.NewError(api.ErrCodeSetModeFailed, "setnonblock", err)
	}
	return nil
}

// SetReuseAddr toggles SO_REUSEADDR.
func SetReuseAddr(h *Handle, on bool) error {
	return setBool(h, unix.SOL_SOCKET, unix.SO_REUSEADDR, on, "setsockopt SO_REUSEADDR")
}

// SetLowLatency disables Nagle coalescing and requests immediate ACKs.
func SetLowLatency(h *Handle, on bool) error {
	if err := setBool(h, unix.IPPROTO_TCP, unix.TCP_NODELAY, on, "setsockopt TCP_NODELAY"); err != nil {
		return err
	}
	return setBool(h, unix.IPPROTO_TCP, unix.TCP_QUICKACK, on, "setsockopt TCP_QUICKACK")
}

func setBool(h *Handle, level, opt int, on bool, op string) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(h.Get(), level, opt, v); err != nil {
		return api.NewError(api.ErrCodeSetModeFailed, op, err)
	}
	return nil
}

// LocalAddress queries the bound address (getsockname).
func LocalAddress(h *Handle) (sockaddr.Address, error) {
	sa, err := unix.Getsockname(h.Get())
	if err != nil {
		return sockaddr.Address{}, api.NewError(api.ErrCodeInvalidArgument, "getsockname", err)
	}
	return sockaddr.FromSockaddr(sa)
}

// PeerAddress queries the connected peer (getpeername).
func PeerAddress(h *Handle) (sockaddr.Address, error) {
	sa, err := unix.Getpeername(h.Get())
	if err != nil {
		return sockaddr.Address{}, api.NewError(api.ErrCodeInvalidArgument, "getpeername", err)
	}
	return sockaddr.FromSockaddr(sa)
}

// PendingError fetches and clears SO_ERROR.
func PendingError(h *Handle) error {
	v, err := unix.GetsockoptInt(h.Get(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Bind binds h to addr. Binding a port below 1024 carries a privilege hint.
func Bind(h *Handle, addr sockaddr.Address) error {
	sa, err := addr.Sockaddr()
	if err != nil {
		return err
	}
	if err := unix.Bind(h.Get(), sa); err != nil {
		e := api.NewError(api.ErrCodeBindFailed, "bind", err).WithContext("addr", addr.String())
		if p := addr.Port(); p > 0 && p < 1024 {
			e = e.WithReason("ports below 1024 need elevated privileges. Are you root?")
		}
		return e
	}
	return nil
}

// Listen marks h as a passive socket.
func Listen(h *Handle, backlog int) error {
	if err := unix.Listen(h.Get(), backlog); err != nil {
		return api.NewError(api.ErrCodeListenFailed, "listen", err)
	}
	return nil
}
