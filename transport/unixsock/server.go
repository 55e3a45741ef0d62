// File: transport/unixsock/server.go
// Author: momentics <momentics@gmail.com>
//
// Unix-domain stream server bound to a filesystem path.

package unixsock

import (
	"errors"
	"io/fs"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/sockaddr"
)

// Backlog is the listen queue length.
const Backlog = 128

type options struct {
	removeStale  bool
	readChunk    int
	acceptorOpts []conn.AcceptorOption
	peerOpts     []conn.Option
}

// Option customizes a Server.
type Option func(*options)

// WithRemoveStale unlinks a leftover socket file at the path before binding.
// Other file types are never removed.
func WithRemoveStale(on bool) Option {
	return func(o *options) { o.removeStale = on }
}

// WithReadChunk sets the per-read size of accepted peers.
func WithReadChunk(n int) Option {
	return func(o *options) { o.readChunk = n }
}

// WithAcceptorOptions forwards options to the Acceptor.
func WithAcceptorOptions(opts ...conn.AcceptorOption) Option {
	return func(o *options) { o.acceptorOpts = append(o.acceptorOpts, opts...) }
}

// WithPeerOptions forwards options to every accepted Connection.
func WithPeerOptions(opts ...conn.Option) Option {
	return func(o *options) { o.peerOpts = append(o.peerOpts, opts...) }
}

// Server is an Acceptor that owns its socket file.
type Server struct {
	*conn.Acceptor
	path string
}

// Listen serves on path.
func Listen(r api.Reactor, path string, onAccept conn.AcceptHandler, opts ...Option) (*Server, error) {
	addr, err := sockaddr.FromUnixPath(path)
	if err != nil {
		return nil, err
	}
	return ListenAddress(r, addr, onAccept, opts...)
}

// ListenAddress serves on a Unix-domain address.
func ListenAddress(r api.Reactor, addr sockaddr.Address, onAccept conn.AcceptHandler, opts ...Option) (*Server, error) {
	if addr.Family() != sockaddr.FamilyUnix {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "listen", "%s is not a unix socket address", addr)
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	path := addr.Path()
	if o.removeStale {
		if err := removeStale(path); err != nil {
			return nil, api.NewError(api.ErrCodeBindFailed, "remove stale", err).WithContext("path", path)
		}
	}

	h, err := fd.Socket(sockaddr.FamilyUnix, unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	if err := fd.Bind(h, addr); err != nil {
		h.Close()
		return nil, err
	}
	if err := setupListener(h); err != nil {
		h.Close()
		unlink(path)
		return nil, err
	}

	l := conn.NewStreamListener(h, addr, o.readChunk, nil)
	aopts := append(o.acceptorOpts, conn.WithPeerOptions(o.peerOpts...))
	acc, err := conn.NewAcceptor(r, l, onAccept, aopts...)
	if err != nil {
		unlink(path)
		return nil, err
	}
	return &Server{Acceptor: acc, path: path}, nil
}

func setupListener(h *fd.Handle) error {
	if err := fd.SetNonblock(h); err != nil {
		return err
	}
	return fd.Listen(h, Backlog)
}

// Path is the bound socket path.
func (s *Server) Path() string { return s.path }

// Close stops accepting and removes the socket file.
func (s *Server) Close() error {
	err := s.Acceptor.Close()
	if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = multierr.Append(err, rerr)
	}
	return err
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case fi.Mode()&fs.ModeSocket == 0:
		return api.Errorf(api.ErrCodeInvalidArgument, "remove stale", "%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

func unlink(path string) { _ = os.Remove(path) }
