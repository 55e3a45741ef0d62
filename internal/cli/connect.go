// File: internal/cli/connect.go
// Author: momentics <momentics@gmail.com>
//
// connect: interactive line client over TCP or a Unix socket.

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-netio/api"
	"github.com/momentics/hioload-netio/conn"
	"github.com/momentics/hioload-netio/framing"
	"github.com/momentics/hioload-netio/reactor"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport"
	"github.com/momentics/hioload-netio/transport/tcp"
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect [host port]",
		Short: "Send lines to a server and print its replies",
		Long: `Connect over TCP (host and port arguments) or a Unix socket (--unix).
Lines come from --message or, when none is given, from stdin. Replies are
printed one per line until the peer closes or --wait elapses after the last
line was sent.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: runConnect,
	}
	f := cmd.Flags()
	f.String("unix", "", WrapString("Unix socket path instead of host and port"))
	f.StringArray("message", nil, WrapString("line to send, repeatable"))
	f.Duration("wait", 2*time.Second, WrapString("how long to wait for replies after the last line"))
	f.Bool("low-latency", false, WrapString("set TCP_NODELAY and TCP_QUICKACK on the TCP connection"))
	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r, err := reactor.New(reactor.WithLogger(log.Named("reactor")))
	if err != nil {
		return err
	}
	defer r.Close()

	tg := target{typ: sockaddr.TypeTCP, lowLatency: v.GetBool("low-latency")}
	if path := v.GetString("unix"); path != "" {
		tg.host, tg.typ = path, sockaddr.TypeUnix
	} else if len(args) == 2 {
		tg.host, tg.service = args[0], args[1]
	} else {
		return api.Errorf(api.ErrCodeInvalidArgument, "connect", "need host and port or --unix")
	}

	out := cmd.OutOrStdout()
	c, err := dialTarget(ctx, r, tg, conn.WithCloseHook(func(api.ExitStatus) { cancel() }))
	if err != nil {
		return err
	}
	framing.New(c, 0, func(msg []byte, complete bool) {
		if !complete {
			fmt.Fprintf(out, "%s...\n", msg)
			return
		}
		fmt.Fprintf(out, "%s\n", msg)
	})
	log.Debug("connected", zap.Stringer("local", c.LocalAddress()), zap.Stringer("peer", c.PeerAddress()))

	send := func(line string) error {
		return r.Submit(func() { _ = c.WriteString(line + "\r\n") })
	}
	wait := v.GetDuration("wait")
	msgs, err := cmd.Flags().GetStringArray("message")
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		for _, m := range msgs {
			if err := send(m); err != nil {
				return err
			}
		}
		stopAfter(ctx, cancel, wait)
	} else {
		go pump(ctx, cmd.InOrStdin(), send, func() { stopAfter(ctx, cancel, wait) })
	}

	err = ignoreCanceled(r.Run(ctx))
	c.Close()
	return err
}

type target struct {
	host, service string
	typ           sockaddr.SocketType
	lowLatency    bool
}

// dialTarget connects to tg. Low-latency mode applies to TCP only.
func dialTarget(ctx context.Context, r api.Reactor, tg target, opts ...conn.Option) (*conn.Connection, error) {
	if tg.typ == sockaddr.TypeTCP {
		d := tcp.Dialer{LowLatency: tg.lowLatency, ConnOptions: opts}
		return d.Dial(ctx, r, tg.host, tg.service)
	}
	return transport.Connect(ctx, r, tg.host, tg.service, tg.typ, opts...)
}

func pump(ctx context.Context, in io.Reader, send func(string) error, done func()) {
	defer done()
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil || send(sc.Text()) != nil {
			return
		}
	}
}

func stopAfter(ctx context.Context, cancel context.CancelFunc, d time.Duration) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(d):
			cancel()
		}
	}()
}
