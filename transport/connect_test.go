package transport_test

import (
	"context"
	"net/netip"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/reactor"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport"
	"github.com/momentics/hioload-netio/transport/tcp"
	"github.com/momentics/hioload-netio/transport/unixsock"
)

func TestConnectPicksTransport(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	lo, err := sockaddr.FromAddrPort(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0))
	require.NoError(t, err)
	tsrv, err := tcp.Listen(r, lo, nil)
	require.NoError(t, err)
	defer tsrv.Close()

	c, err := transport.Connect(ctx, r, "127.0.0.1", strconv.Itoa(tsrv.Address().Port()), sockaddr.TypeTCP)
	require.NoError(t, err)
	assert.Equal(t, sockaddr.FamilyIPv4, c.PeerAddress().Family())
	c.Close()

	c, err = transport.ConnectAddress(ctx, r, tsrv.Address())
	require.NoError(t, err)
	assert.True(t, c.Active())
	c.Close()

	path := filepath.Join(t.TempDir(), "f.sock")
	usrv, err := unixsock.Listen(r, path, nil)
	require.NoError(t, err)
	defer usrv.Close()

	c, err = transport.Connect(ctx, r, path, "", sockaddr.TypeUnix)
	require.NoError(t, err)
	assert.Equal(t, sockaddr.FamilyUnix, c.PeerAddress().Family())
	c.Close()

	c, err = transport.ConnectAddress(ctx, r, usrv.Address())
	require.NoError(t, err)
	c.Close()

	c, err = transport.Connect(ctx, r, "127.0.0.1", "9", sockaddr.TypeUDP)
	require.NoError(t, err)
	assert.Equal(t, 9, c.PeerAddress().Port())
	assert.True(t, c.LocalAddress().IsIP())
	c.Close()
}

func TestConnectRejects(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	_, err = transport.Connect(ctx, r, "127.0.0.1", "53", sockaddr.SocketType(42))
	assert.ErrorIs(t, err, api.ErrNotSupported)

	_, err = transport.ConnectAddress(ctx, r, sockaddr.FromNetlinkIDs(0, 1))
	assert.ErrorIs(t, err, api.ErrAddressFamilyUnsupported)

	_, err = transport.ConnectAddress(ctx, r, sockaddr.Address{})
	assert.ErrorIs(t, err, api.ErrAddressFamilyUnsupported)
}
