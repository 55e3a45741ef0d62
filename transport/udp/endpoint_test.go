package udp_test

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/reactor"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport/udp"
)

func loopback(t *testing.T) sockaddr.Address {
	t.Helper()
	a, err := sockaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0))
	require.NoError(t, err)
	return a
}

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New(reactor.WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func run(r *reactor.Reactor) (stop func()) {
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

type datagram struct {
	text string
	from sockaddr.Address
}

func TestLoopbackDatagram(t *testing.T) {
	r := newReactor(t)

	got := make(chan datagram, 1)
	rx, err := udp.Open[[1024]byte](r, loopback(t), func(rec *iobuf.Record) {
		got <- datagram{rec.Text(), rec.Address()}
	})
	require.NoError(t, err)
	require.NotZero(t, rx.LocalAddress().Port())

	tx, err := udp.Open[[1024]byte](r, loopback(t), nil, udp.WithConfirm(true))
	require.NoError(t, err)
	assert.True(t, tx.Confirm())
	require.NoError(t, tx.SendTo(rx.LocalAddress(), []byte("TEST UDP PACKET")))

	stop := run(r)
	select {
	case d := <-got:
		assert.Equal(t, "TEST UDP PACKET", d.text)
		assert.Equal(t, sockaddr.FamilyIPv4, d.from.Family())
		assert.NotZero(t, d.from.Port())
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}
	stop()

	rx.Close()
	tx.Close()
}

func TestConnectedEndpointRoundTrip(t *testing.T) {
	r := newReactor(t)

	var rx *udp.Endpoint[[512]byte]
	rx, err := udp.Open[[512]byte](r, loopback(t), func(rec *iobuf.Record) {
		_ = rx.SendTo(rec.Address(), append([]byte("re: "), rec.Bytes()...))
	})
	require.NoError(t, err)

	replies := make(chan string, 1)
	cl, err := udp.Dial[[512]byte](r, rx.LocalAddress(), func(rec *iobuf.Record) {
		replies <- rec.Text()
	})
	require.NoError(t, err)
	assert.True(t, cl.PeerAddress().Equal(rx.LocalAddress()))
	require.NoError(t, cl.Send([]byte("ping")))

	stop := run(r)
	select {
	case s := <-replies:
		assert.Equal(t, "re: ping", s)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
	stop()

	cl.Close()
	rx.Close()
}

func TestOversizedDatagramIsTruncated(t *testing.T) {
	r := newReactor(t)

	sizes := make(chan int, 1)
	rx, err := udp.Open[[512]byte](r, loopback(t), func(rec *iobuf.Record) { sizes <- rec.Size() })
	require.NoError(t, err)
	assert.Equal(t, 512, rx.MaxDatagram())

	tx, err := udp.Open[[1024]byte](r, loopback(t), nil)
	require.NoError(t, err)
	var pkt iobuf.Packet[[1024]byte]
	pkt.Append(bytes.Repeat([]byte{'x'}, 600))
	require.NoError(t, tx.SendPacket(rx.LocalAddress(), &pkt))

	stop := run(r)
	select {
	case n := <-sizes:
		assert.Equal(t, 512, n)
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not received")
	}
	stop()

	rx.Close()
	tx.Close()
}

func TestArgumentChecks(t *testing.T) {
	r := newReactor(t)

	path, err := sockaddr.FromUnixPath("/tmp/x.sock")
	require.NoError(t, err)
	_, err = udp.Open[[512]byte](r, path, nil)
	assert.ErrorIs(t, err, api.ErrAddressFamilyUnsupported)

	ep, err := udp.Open[[512]byte](r, loopback(t), nil)
	require.NoError(t, err)
	defer ep.Close()
	assert.ErrorIs(t, ep.SendTo(path, []byte("x")), api.ErrInvalidArgument)
	assert.ErrorIs(t, ep.Send([]byte("x")), api.ErrInvalidArgument)
	assert.Equal(t, 0, ep.QueueLen())
}

func TestSendToOtherFamilyIsRejected(t *testing.T) {
	r := newReactor(t)

	ep, err := udp.Open[[512]byte](r, loopback(t), nil)
	require.NoError(t, err)
	defer ep.Close()

	v6, err := sockaddr.FromAddrPort(netip.MustParseAddrPort("[::1]:9"))
	require.NoError(t, err)
	assert.ErrorIs(t, ep.SendTo(v6, []byte("x")), api.ErrInvalidArgument)
	assert.Equal(t, 0, ep.QueueLen())

	_, err = r.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ep.Active())

	v4, err := sockaddr.FromAddrPort(netip.MustParseAddrPort("127.0.0.1:9"))
	require.NoError(t, err)
	require.NoError(t, ep.SendTo(v4, []byte("x")))
	_, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.True(t, ep.Active())
	assert.True(t, ep.Drained())
}
