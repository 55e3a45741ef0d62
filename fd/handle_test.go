package fd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/fd"
	"github.com/momentics/hioload-netio/sockaddr"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	p, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	return p[0], p[1]
}

func isOpen(raw int) bool {
	_, err := unix.FcntlInt(uintptr(raw), unix.F_GETFD, 0)
	return err == nil
}

func TestCloseReleasesOnce(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	h := fd.New(a)
	require.True(t, h.Valid())
	assert.Equal(t, a, h.Get())

	h.Close()
	assert.False(t, h.Valid())
	assert.False(t, isOpen(a))
	h.Close()
	fd.Null().Close()
}

func TestReleaseEscapesOwnership(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	h := fd.New(a)
	raw := h.Release()
	assert.Equal(t, a, raw)
	assert.False(t, h.Valid())
	h.Close()
	assert.True(t, isOpen(raw))
	require.NoError(t, unix.Close(raw))
}

func TestNilHandleIsSafe(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	var h *fd.Handle
	assert.NotPanics(t, func() {
		assert.Equal(t, fd.Invalid, h.Get())
		assert.False(t, h.Valid())
		assert.Equal(t, fd.Invalid, h.Release())
		assert.False(t, h.Move().Valid())
		h.Close()
		h.Reset(a)
	})
	assert.False(t, isOpen(a))
}

func TestResetAndMove(t *testing.T) {
	a, b := socketPair(t)

	h := fd.New(a)
	h.Reset(b)
	assert.False(t, isOpen(a))
	assert.Equal(t, b, h.Get())

	m := h.Move()
	assert.False(t, h.Valid())
	assert.Equal(t, b, m.Get())
	m.Close()
	assert.False(t, isOpen(b))
}

func TestSocketOptionsAndLocalAddress(t *testing.T) {
	h, err := fd.Socket(sockaddr.FamilyIPv4, unix.SOCK_STREAM)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, fd.SetNonblock(h))
	require.NoError(t, fd.SetReuseAddr(h, true))
	require.NoError(t, fd.SetLowLatency(h, true))
	require.NoError(t, unix.Bind(h.Get(), &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))

	local, err := fd.LocalAddress(h)
	require.NoError(t, err)
	assert.Equal(t, sockaddr.FamilyIPv4, local.Family())
	assert.NotZero(t, local.Port())
	assert.NoError(t, fd.PendingError(h))
}
