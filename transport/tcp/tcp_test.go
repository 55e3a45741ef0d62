package tcp_test

import (
	"context"
	"net/netip"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/reactor"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport/tcp"
)

func loopback(t *testing.T, port uint16) sockaddr.Address {
	t.Helper()
	a, err := sockaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port))
	require.NoError(t, err)
	return a
}

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New(reactor.WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	return r
}

func run(t *testing.T, r *reactor.Reactor) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestEchoMoin(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	var peers []*conn.Connection
	srv, err := tcp.Listen(r, loopback(t, 0), func(_ *conn.Acceptor, c *conn.Connection) {
		peers = append(peers, c)
		c.SetDataCallback(func(rec *iobuf.Record) { _ = c.Write(rec) })
	}, tcp.WithLowLatency(true), tcp.WithPeerOptions(conn.WithMetrics(nil)))
	require.NoError(t, err)
	port := srv.Address().Port()
	require.NotZero(t, port)

	echoed := make(chan string, 1)
	client, err := tcp.Dial(context.Background(), r, "127.0.0.1", strconv.Itoa(port),
		conn.WithDataHandler(func(rec *iobuf.Record) { echoed <- rec.Text() }))
	require.NoError(t, err)
	assert.Equal(t, sockaddr.FamilyIPv4, client.LocalAddress().Family())
	assert.NotZero(t, client.LocalAddress().Port())
	assert.Equal(t, port, client.PeerAddress().Port())
	require.NoError(t, client.WriteString("Moin"))

	stop := run(t, r)
	select {
	case got := <-echoed:
		assert.Equal(t, "Moin", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo received")
	}
	stop()

	assert.Equal(t, 1, srv.Count())
	client.Close()
	for _, p := range peers {
		p.Close()
	}
	assert.Equal(t, 0, srv.Count())
	require.NoError(t, srv.Close())
}

func TestPeerCloseTearsDownServerSide(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	closed := make(chan api.ExitStatus, 1)
	srv, err := tcp.Listen(r, loopback(t, 0), func(_ *conn.Acceptor, c *conn.Connection) {
		c.OnClose(func(st api.ExitStatus) { closed <- st })
		c.SetDataCallback(func(*iobuf.Record) {})
	})
	require.NoError(t, err)
	defer srv.Close()

	d := tcp.Dialer{Timeout: time.Second}
	client, err := d.DialAddress(context.Background(), r, srv.Address())
	require.NoError(t, err)

	stop := run(t, r)
	require.Eventually(t, func() bool { return srv.Count() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, r.Submit(client.Close))

	select {
	case st := <-closed:
		assert.Equal(t, api.ExitNoError, st)
	case <-time.After(5 * time.Second):
		t.Fatal("server side did not observe EOF")
	}
	stop()
	assert.Equal(t, 0, srv.Count())
}

func TestDialRefused(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	srv, err := tcp.Listen(r, loopback(t, 0), nil)
	require.NoError(t, err)
	addr := srv.Address()
	require.NoError(t, srv.Close())

	var d tcp.Dialer
	_, err = d.DialAddress(context.Background(), r, addr)
	assert.ErrorIs(t, err, api.ErrUnreachable)

	_, err = d.DialCandidates(context.Background(), r, nil)
	assert.ErrorIs(t, err, api.ErrNoCandidates)
}

func TestListenRejectsNonIP(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	path, err := sockaddr.FromUnixPath("/tmp/not-tcp.sock")
	require.NoError(t, err)
	_, err = tcp.Listen(r, path, nil)
	assert.ErrorIs(t, err, api.ErrAddressFamilyUnsupported)
}

func TestPrivilegedPortHint(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, low ports are bindable")
	}
	r := newReactor(t)
	defer r.Close()

	_, err := tcp.Listen(r, loopback(t, 1), nil)
	require.ErrorIs(t, err, api.ErrBindFailed)
	assert.Contains(t, err.Error(), "Are you root?")
}

func closedPort(t *testing.T, r *reactor.Reactor) sockaddr.Address {
	t.Helper()
	srv, err := tcp.Listen(r, loopback(t, 0), nil)
	require.NoError(t, err)
	addr := srv.Address()
	require.NoError(t, srv.Close())
	return addr
}

type dialResult struct {
	c   *conn.Connection
	err error
}

func TestDialAsyncFallsThroughToReachableCandidate(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	srv, err := tcp.Listen(r, loopback(t, 0), func(_ *conn.Acceptor, c *conn.Connection) {
		c.SetDataCallback(func(rec *iobuf.Record) { _ = c.Write(rec) })
	})
	require.NoError(t, err)
	defer srv.Close()

	echoed := make(chan string, 1)
	results := make(chan dialResult, 1)
	d := tcp.Dialer{Timeout: 5 * time.Second, ConnOptions: []conn.Option{
		conn.WithDataHandler(func(rec *iobuf.Record) { echoed <- rec.Text() }),
	}}
	p, err := d.DialAsync(context.Background(), r, []sockaddr.Address{closedPort(t, r), srv.Address()},
		func(c *conn.Connection, err error) {
			if err == nil {
				_ = c.WriteString("Moin")
			}
			results <- dialResult{c, err}
		})
	require.NoError(t, err)

	stop := run(t, r)
	defer stop()
	var res dialResult
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not complete")
	}
	require.NoError(t, res.err)
	assert.True(t, p.Done())
	assert.Equal(t, srv.Address().Port(), res.c.PeerAddress().Port())
	assert.NotZero(t, res.c.LocalAddress().Port())

	select {
	case got := <-echoed:
		assert.Equal(t, "Moin", got)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo received")
	}
	require.NoError(t, r.Submit(res.c.Close))
}

func TestDialAsyncReportsUnreachable(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	results := make(chan dialResult, 1)
	var d tcp.Dialer
	_, err := d.DialAsync(context.Background(), r, []sockaddr.Address{closedPort(t, r)},
		func(c *conn.Connection, err error) { results <- dialResult{c, err} })
	if err == nil {
		stop := run(t, r)
		defer stop()
		select {
		case res := <-results:
			assert.Nil(t, res.c)
			err = res.err
		case <-time.After(5 * time.Second):
			t.Fatal("connect did not complete")
		}
	}
	assert.ErrorIs(t, err, api.ErrUnreachable)
	assert.Zero(t, r.Len())

	_, err = d.DialAsync(context.Background(), r, nil, nil)
	assert.ErrorIs(t, err, api.ErrNoCandidates)
}

func TestDialAsyncCancel(t *testing.T) {
	r := newReactor(t)
	defer r.Close()

	srv, err := tcp.Listen(r, loopback(t, 0), nil)
	require.NoError(t, err)
	defer srv.Close()

	var d tcp.Dialer
	called := false
	p, err := d.DialAsync(context.Background(), r, []sockaddr.Address{srv.Address()},
		func(*conn.Connection, error) { called = true })
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	p.Cancel()
	p.Cancel()
	assert.True(t, p.Done())
	assert.Equal(t, 1, r.Len())

	_, err = r.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, called)
}
