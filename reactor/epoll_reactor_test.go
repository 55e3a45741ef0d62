//go:build linux

package reactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/reactor"
)

func newPair(t *testing.T) (int, int) {
	t.Helper()
	p, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestReadableDispatch(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, b := newPair(t)
	var got api.EventMask
	require.NoError(t, r.Register(a, api.EventReadable, func(fd int, ev api.EventMask) {
		assert.Equal(t, a, fd)
		got |= ev
	}))
	assert.Equal(t, 1, r.Len())

	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)
	n, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, api.EventReadable, got)

	require.NoError(t, r.Unregister(a))
	require.NoError(t, r.Unregister(a))
	assert.Zero(t, r.Len())
}

func TestModifyArmsWritable(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, _ := newPair(t)
	var got api.EventMask
	require.NoError(t, r.Register(a, 0, func(_ int, ev api.EventMask) { got = ev }))
	n, err := r.Poll(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.Modify(a, api.EventWritable))
	n, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, api.EventWritable, got)

	assert.Error(t, r.Modify(a+1000, api.EventReadable))
}

func TestHangupWithoutReadInterestIsError(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	p, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(p[0])

	var got api.EventMask
	require.NoError(t, r.Register(p[0], 0, func(_ int, ev api.EventMask) { got = ev }))
	require.NoError(t, unix.Close(p[1]))

	_, err = r.Poll(time.Second)
	require.NoError(t, err)
	assert.NotZero(t, got&api.EventError)
}

func TestPanickingHandlerIsRecovered(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a, _ := newPair(t)
	require.NoError(t, r.Register(a, api.EventWritable, func(int, api.EventMask) { panic("boom") }))
	assert.NotPanics(t, func() { _, _ = r.Poll(time.Second) })
}

func TestSubmitAndRun(t *testing.T) {
	r, err := reactor.New(reactor.WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	ran := make(chan struct{})
	require.NoError(t, r.Submit(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted task did not run")
	}

	r.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRunHonorsContext(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Submit(func() {}), reactor.ErrClosed)
}

func TestStopBeforeRunIsKept(t *testing.T) {
	r, err := reactor.New(reactor.WithPollTimeout(10 * time.Millisecond))
	require.NoError(t, err)
	defer r.Close()

	r.Stop()
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored an earlier Stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}

func readyEventfd(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(1, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	require.NoError(t, err)
	return fd
}

func TestReusedDescriptorSkipsStaleEvent(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)
	defer r.Close()

	a := readyEventfd(t)
	defer unix.Close(a)
	b := readyEventfd(t)

	var reused int
	var stale, old int
	require.NoError(t, r.Register(a, api.EventReadable, func(int, api.EventMask) {
		if reused != 0 {
			return
		}
		require.NoError(t, r.Unregister(b))
		require.NoError(t, unix.Close(b))
		c, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
		require.NoError(t, err)
		reused = c
		require.NoError(t, r.Register(c, api.EventReadable, func(int, api.EventMask) { stale++ }))
	}))
	require.NoError(t, r.Register(b, api.EventReadable, func(int, api.EventMask) { old++ }))

	n, err := r.Poll(time.Second)
	require.NoError(t, err)
	defer unix.Close(reused)
	if reused != b {
		t.Skipf("descriptor %d not reused (got %d)", b, reused)
	}
	assert.Equal(t, 1, n)
	assert.Zero(t, stale)
	assert.Zero(t, old)
}
