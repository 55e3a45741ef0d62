// File: internal/echo/service.go
// Author: momentics <momentics@gmail.com>
//
// Line echo service: TCP and Unix listeners feeding CRLF framing,
// with live reconfiguration of rate and connection limits.

package echo

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/control"
	"github.com/momentics/hioload-netio/framing"
	"github.com/momentics/hioload-netio/internal/logging"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport/tcp"
	"github.com/momentics/hioload-netio/transport/unixsock"
)

var (
	crlf    = []byte("\r\n")
	quit    = []byte("QUIT")
	tooLong = []byte("ERR line too long\r\n")
)

// Reactor is what the service needs from the event loop.
type Reactor interface {
	api.Reactor
	Submit(fn func()) error
	Len() int
}

// Service echoes every complete line back to its sender.
// Apart from Start, Submit-scheduled work and the counters, all methods
// must run on the reactor goroutine or with the reactor stopped.
type Service struct {
	r       Reactor
	store   *control.ConfigStore
	burst   *control.BurstReset
	metrics *control.Metrics
	log     *zap.Logger

	tcp   *conn.Acceptor
	unix  *unixsock.Server
	peers map[*conn.Connection]struct{}
	live  atomic.Int64
	lines atomic.Int64
}

// New wires a service to r. clk drives burst resets.
func New(r Reactor, store *control.ConfigStore, clk clock.Clock, m *control.Metrics, log *zap.Logger) *Service {
	log = logging.Or(log, "echo")
	cfg := store.Snapshot()
	s := &Service{
		r:       r,
		store:   store,
		metrics: m,
		log:     log,
		peers:   make(map[*conn.Connection]struct{}),
	}
	s.burst = control.NewBurstReset(clk, cfg.RateResetInterval, r.Submit, log.Named("burst"))
	store.OnReload(s.reload)
	return s
}

// Start opens the configured listeners and arms burst resets until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	cfg := s.store.Snapshot()
	if cfg.ListenAddr != "" {
		host, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return api.NewError(api.ErrCodeInvalidArgument, "listen", err).WithContext("listen", cfg.ListenAddr)
		}
		s.tcp, err = tcp.ListenHost(ctx, s.r, host, port, s.accept,
			tcp.WithLowLatency(cfg.LowLatency),
			tcp.WithReuseAddr(cfg.ReuseAddr),
			tcp.WithReadChunk(cfg.ReadChunk),
			tcp.WithAcceptorOptions(s.acceptorOptions(cfg)...),
			tcp.WithPeerOptions(s.peerOptions(cfg)...))
		if err != nil {
			return err
		}
		s.log.Info("tcp listener ready", zap.Stringer("addr", s.tcp.Address()))
	}
	if cfg.UnixPath != "" {
		var err error
		s.unix, err = unixsock.Listen(s.r, cfg.UnixPath, s.accept,
			unixsock.WithRemoveStale(true),
			unixsock.WithReadChunk(cfg.ReadChunk),
			unixsock.WithAcceptorOptions(s.acceptorOptions(cfg)...),
			unixsock.WithPeerOptions(s.peerOptions(cfg)...))
		if err != nil {
			return multierr.Append(err, s.closeListeners())
		}
		s.log.Info("unix listener ready", zap.String("path", s.unix.Path()))
	}
	s.burst.Start(ctx)
	return nil
}

func (s *Service) acceptorOptions(cfg control.Config) []conn.AcceptorOption {
	return []conn.AcceptorOption{
		conn.WithMaxConnections(cfg.MaxConnections),
		conn.WithOverflowHandler(s.overflow),
		conn.WithAcceptorMetrics(s.metrics),
		conn.WithAcceptorLogger(s.log.Named("acceptor")),
	}
}

func (s *Service) peerOptions(cfg control.Config) []conn.Option {
	return []conn.Option{
		conn.WithRateLimit(cfg.RateLimit),
		conn.WithMetrics(s.metrics),
		conn.WithErrorHandler(func(c *conn.Connection, err error) {
			s.log.Debug("peer failed", zap.Stringer("peer", c.PeerAddress()), zap.Error(err))
		}),
	}
}

func (s *Service) accept(_ *conn.Acceptor, c *conn.Connection) {
	cfg := s.store.Snapshot()
	s.peers[c] = struct{}{}
	s.live.Add(1)
	remove := s.burst.Add(c)
	c.OnClose(func(api.ExitStatus) {
		remove()
		delete(s.peers, c)
		s.live.Add(-1)
	})
	framing.New(c, cfg.LineMax, func(msg []byte, complete bool) {
		// lines after QUIT in the same chunk are ignored
		if c.Lingering() {
			return
		}
		if !complete {
			_ = c.WriteBytes(tooLong)
			return
		}
		if bytes.Equal(msg, quit) {
			c.CloseWhenDrained()
			return
		}
		s.lines.Add(1)
		_ = c.WriteBytes(append(msg, crlf...))
	})
}

func (s *Service) overflow(a *conn.Acceptor, c *conn.Connection) {
	s.log.Debug("rejecting peer", zap.Stringer("peer", c.PeerAddress()), zap.Int("live", a.Count()))
	c.Close()
}

func (s *Service) reload(old, cur control.Config) {
	if old.RateLimit == cur.RateLimit && old.MaxConnections == cur.MaxConnections {
		return
	}
	err := s.r.Submit(func() {
		for c := range s.peers {
			c.SetRateLimit(cur.RateLimit)
		}
		if s.tcp != nil {
			s.tcp.SetMaxConnections(cur.MaxConnections)
		}
		if s.unix != nil {
			s.unix.SetMaxConnections(cur.MaxConnections)
		}
		s.log.Info("limits updated",
			zap.Uint("rate_limit", cur.RateLimit), zap.Uint("max_connections", cur.MaxConnections))
	})
	if err != nil {
		s.log.Warn("reload not applied", zap.Error(err))
	}
}

// TCPAddress is the bound TCP address, zero when TCP is off.
func (s *Service) TCPAddress() sockaddr.Address {
	if s.tcp == nil {
		return sockaddr.Address{}
	}
	return s.tcp.Address()
}

// UnixPath is the bound socket path, empty when Unix is off.
func (s *Service) UnixPath() string {
	if s.unix == nil {
		return ""
	}
	return s.unix.Path()
}

// Peers is the number of open peer connections. Safe from any goroutine.
func (s *Service) Peers() int { return int(s.live.Load()) }

// Lines is the number of lines echoed. Safe from any goroutine.
func (s *Service) Lines() int64 { return s.lines.Load() }

// RegisterProbes exposes service gauges.
func (s *Service) RegisterProbes(p *control.Probes) {
	p.Register("echo.peers", s.live.Load)
	p.Register("echo.lines", s.lines.Load)
	p.Register("reactor.watches", func() int64 { return int64(s.r.Len()) })
	p.Register("burst.members", func() int64 { return int64(s.burst.Len()) })
}

// Status is a one-line summary for the service manager.
func (s *Service) Status() string {
	return "peers=" + strconv.FormatInt(s.live.Load(), 10) + " lines=" + strconv.FormatInt(s.lines.Load(), 10)
}

// Close closes the listeners and every peer.
func (s *Service) Close() error {
	s.burst.Stop()
	err := s.closeListeners()
	for c := range s.peers {
		c.Close()
	}
	return err
}

func (s *Service) closeListeners() error {
	var err error
	if s.tcp != nil {
		err = multierr.Append(err, s.tcp.Close())
	}
	if s.unix != nil {
		err = multierr.Append(err, s.unix.Close())
	}
	return err
}
