package conn_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/fake"
	"github.com/momentics/hioload-netio/iobuf"
)

func newActive(t *testing.T, opts ...conn.Option) (*conn.Connection, *fake.Socket, *fake.Reactor) {
	t.Helper()
	r := fake.NewReactor()
	s := fake.NewSocket(7)
	c, err := conn.New(r, s, append([]conn.Option{conn.WithMetrics(nil)}, opts...)...)
	require.NoError(t, err)
	require.Equal(t, api.StateActive, c.State())
	return c, s, r
}

func TestInterestFollowsCallbacksAndQueue(t *testing.T) {
	c, _, r := newActive(t)
	assert.True(t, r.Registered(7))
	assert.Equal(t, api.EventMask(0), r.Interest(7))

	c.SetDataCallback(func(*iobuf.Record) {})
	assert.Equal(t, api.EventReadable, r.Interest(7))

	require.NoError(t, c.WriteString("Moin"))
	assert.Equal(t, api.EventReadable|api.EventWritable, r.Interest(7))

	r.Fire(7, api.EventWritable)
	assert.True(t, c.Drained())
	assert.Equal(t, api.EventReadable, r.Interest(7))

	c.SetDataCallback(nil)
	assert.Equal(t, api.EventMask(0), r.Interest(7))

	modifies := r.Modifies
	c.SetDataCallback(nil)
	assert.Equal(t, modifies, r.Modifies)
}

func TestPartialWriteRetriesRemainderFirst(t *testing.T) {
	c, s, r := newActive(t)
	require.NoError(t, c.WriteString("AAAA"))
	require.NoError(t, c.WriteString("BBBB"))
	require.NoError(t, c.WriteString("CCCC"))

	s.LimitNextSend(1)
	r.Fire(7, api.EventWritable)
	r.Fire(7, api.EventWritable)

	require.Len(t, s.Attempts, 2)
	assert.Equal(t, "AAAA", string(s.Attempts[0]))
	assert.Equal(t, "AAA", string(s.Attempts[1]))

	for !c.Drained() {
		r.FireInterest(7)
	}
	assert.Equal(t, "AAAABBBBCCCC", string(s.Written()))
}

func TestWouldBlockIsNotAnError(t *testing.T) {
	var failed bool
	c, s, r := newActive(t, conn.WithErrorHandler(func(*conn.Connection, error) { failed = true }))
	require.NoError(t, c.WriteString("hello"))

	s.LimitNextSend(-1)
	r.Fire(7, api.EventWritable)
	assert.False(t, failed)
	assert.True(t, c.Active())
	assert.Equal(t, 1, c.QueueLen())

	r.Fire(7, api.EventWritable)
	assert.Equal(t, "hello", string(s.Written()))
}

func TestPartialWritesDisabledDropsRemainder(t *testing.T) {
	c, s, r := newActive(t, conn.WithPartialWrites(false))
	require.NoError(t, c.WriteString("abcdef"))
	require.NoError(t, c.WriteString("XY"))

	s.LimitNextSend(2)
	r.Fire(7, api.EventWritable)
	r.Fire(7, api.EventWritable)
	assert.Equal(t, "abXY", string(s.Written()))
	assert.True(t, c.Drained())
}

func TestFatalWriteClosesOnce(t *testing.T) {
	var errs []error
	var statuses []api.ExitStatus
	c, s, r := newActive(t,
		conn.WithErrorHandler(func(_ *conn.Connection, err error) { errs = append(errs, err) }),
		conn.WithCloseHook(func(st api.ExitStatus) { statuses = append(statuses, st) }),
	)
	require.NoError(t, c.WriteString("x"))
	s.SetSendError(unix.EPIPE)
	r.Fire(7, api.EventWritable)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], api.ErrWriteFailed)
	assert.ErrorIs(t, errs[0], unix.EPIPE)
	assert.Equal(t, []api.ExitStatus{api.ExitNoError}, statuses)
	assert.Equal(t, api.StateClosing, c.State())
	assert.False(t, r.Registered(7))
	assert.Equal(t, 1, s.Closed())

	c.Close()
	assert.Len(t, statuses, 1)
	assert.Error(t, c.WriteString("late"))
}

func TestReadDeliversAndEOFCloses(t *testing.T) {
	var got []string
	var closed int
	c, s, r := newActive(t,
		conn.WithDataHandler(func(rec *iobuf.Record) { got = append(got, string(rec.Bytes())) }),
		conn.WithCloseHook(func(api.ExitStatus) { closed++ }),
	)
	assert.Equal(t, api.EventReadable, r.Interest(7))

	s.AddRecvData([]byte("Moin"))
	r.Fire(7, api.EventReadable)
	r.Fire(7, api.EventReadable) // spurious wakeup
	assert.Equal(t, []string{"Moin"}, got)
	assert.True(t, c.Active())

	s.AddRecvEOF()
	r.Fire(7, api.EventReadable)
	assert.Equal(t, 1, closed)
	assert.False(t, c.Active())
}

func TestReadIgnoredWithoutCallback(t *testing.T) {
	c, s, r := newActive(t)
	s.AddRecvData([]byte("unread"))
	r.Fire(7, api.EventReadable)
	assert.True(t, c.Active())

	var got string
	c.SetDataCallback(func(rec *iobuf.Record) { got = string(rec.Bytes()) })
	r.Fire(7, api.EventReadable)
	assert.Equal(t, "unread", got)
}

func TestReadFailureIsFatal(t *testing.T) {
	var gotErr error
	c, s, r := newActive(t,
		conn.WithDataHandler(func(*iobuf.Record) {}),
		conn.WithErrorHandler(func(_ *conn.Connection, err error) { gotErr = err }),
	)
	s.SetRecvError(unix.ECONNRESET)
	r.Fire(7, api.EventReadable)
	assert.ErrorIs(t, gotErr, api.ErrReadFailed)
	assert.False(t, c.Active())
}

func TestErrorReadinessPrecedesReadAndWrite(t *testing.T) {
	var gotErr error
	var read bool
	c, s, r := newActive(t,
		conn.WithDataHandler(func(*iobuf.Record) { read = true }),
		conn.WithErrorHandler(func(_ *conn.Connection, err error) { gotErr = err }),
	)
	require.NoError(t, c.WriteString("pending"))
	s.AddRecvData([]byte("data"))
	s.SetPendingError(unix.ECONNREFUSED)

	r.Fire(7, api.EventError|api.EventReadable|api.EventWritable)
	assert.ErrorIs(t, gotErr, unix.ECONNREFUSED)
	assert.False(t, read)
	assert.Empty(t, s.Attempts)
	assert.Equal(t, api.StateClosing, c.State())
}

func TestRateLimitThrottlesUntilReset(t *testing.T) {
	c, s, r := newActive(t, conn.WithRateLimit(2))
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, c.WriteString(p))
	}
	r.Fire(7, api.EventWritable)
	r.Fire(7, api.EventWritable)
	assert.Equal(t, uint(2), c.Burst())
	assert.Equal(t, api.EventMask(0), r.Interest(7))

	r.Fire(7, api.EventWritable)
	assert.Equal(t, "ab", string(s.Written()))

	c.ResetBurst()
	assert.Equal(t, api.EventWritable, r.Interest(7))
	r.Fire(7, api.EventWritable)
	assert.Equal(t, "abc", string(s.Written()))

	c.SetRateLimit(0)
	assert.Equal(t, uint(0), c.RateLimit())
}

func TestInactiveConnection(t *testing.T) {
	r := fake.NewReactor()
	var status []api.ExitStatus
	c, err := conn.New(r, nil, conn.WithCloseHook(func(st api.ExitStatus) { status = append(status, st) }))
	require.NoError(t, err)
	assert.Equal(t, api.StateInactive, c.State())
	assert.Equal(t, -1, c.FD())

	require.NoError(t, c.WriteString("queued"))
	assert.Equal(t, 1, c.QueueLen())
	assert.False(t, c.Drained())

	c.CloseWithStatus(api.ExitTimeout)
	c.Close()
	assert.Equal(t, []api.ExitStatus{api.ExitTimeout}, status)
}

func TestRegisterFailureClosesSocket(t *testing.T) {
	r := fake.NewReactor()
	r.RegisterErr = errors.New("no room")
	s := fake.NewSocket(3)
	_, err := conn.New(r, s)
	assert.ErrorIs(t, err, api.ErrHandleCreationFailed)
	assert.Equal(t, 1, s.Closed())
}

func TestCallbackMayCloseConnection(t *testing.T) {
	var c *conn.Connection
	c, s, r := newActive(t, conn.WithDataHandler(func(*iobuf.Record) { c.Close() }))
	require.NoError(t, c.WriteString("never sent"))
	s.AddRecvData([]byte("bye"))
	r.Fire(7, api.EventReadable|api.EventWritable)
	assert.Empty(t, s.Attempts)
	assert.False(t, r.Registered(7))
}

func TestCloseWhenDrainedFlushesQueueFirst(t *testing.T) {
	var statuses []api.ExitStatus
	c, s, r := newActive(t, conn.WithCloseHook(func(st api.ExitStatus) { statuses = append(statuses, st) }))
	c.SetDataCallback(func(rec *iobuf.Record) {
		_ = c.Write(rec)
		c.CloseWhenDrained()
	})
	s.AddRecvData([]byte("hello\r\n"))
	s.AddRecvData([]byte("never read"))

	r.Fire(7, api.EventReadable)
	require.True(t, c.Active())
	assert.True(t, c.Lingering())
	assert.Equal(t, api.EventWritable, r.Interest(7))
	assert.Error(t, c.WriteString("late"))

	s.LimitNextSend(3)
	r.FireInterest(7)
	require.True(t, c.Active())
	r.FireInterest(7)

	assert.Equal(t, "hello\r\n", string(s.Written()))
	assert.Equal(t, api.StateClosing, c.State())
	assert.Equal(t, []api.ExitStatus{api.ExitNoError}, statuses)
	assert.Equal(t, 1, s.Closed())
	assert.False(t, r.Registered(7))
}

func TestCloseWhenDrainedOnEmptyQueueClosesNow(t *testing.T) {
	c, s, r := newActive(t)
	c.CloseWhenDrained()
	assert.Equal(t, api.StateClosing, c.State())
	assert.False(t, c.Lingering())
	assert.Equal(t, 1, s.Closed())
	assert.False(t, r.Registered(7))
}
