// File: internal/cli/send.go
// Author: momentics <momentics@gmail.com>
//
// send: UDP datagrams with optional reply capture.

package cli

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-netio/iobuf"
	"github.com/momentics/hioload-netio/reactor"
	"github.com/momentics/hioload-netio/sockaddr"
	"github.com/momentics/hioload-netio/transport/udp"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send host port message...",
		Short: "Send UDP datagrams, one per message",
		Long: `Send each message as one UDP datagram. With --wait > 0 the local socket
is bound and replies are printed with their sender until the wait elapses.`,
		Args: cobra.MinimumNArgs(3),
		RunE: runSend,
	}
	f := cmd.Flags()
	f.Duration("wait", 0, WrapString("how long to print replies, 0 sends only"))
	f.Bool("confirm", false, WrapString("set MSG_CONFIRM on every datagram"))
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dest, err := sockaddr.ResolveFirst(cmd.Context(), args[0], args[1], sockaddr.TypeUDP)
	if err != nil {
		return err
	}
	unspec := netip.IPv4Unspecified()
	if dest.Family() == sockaddr.FamilyIPv6 {
		unspec = netip.IPv6Unspecified()
	}
	local, err := sockaddr.FromAddrPort(netip.AddrPortFrom(unspec, 0))
	if err != nil {
		return err
	}

	r, err := reactor.New(reactor.WithLogger(log.Named("reactor")))
	if err != nil {
		return err
	}
	defer r.Close()

	wait := v.GetDuration("wait")
	out := cmd.OutOrStdout()
	var onData func(*iobuf.Record)
	if wait > 0 {
		onData = func(rec *iobuf.Record) {
			fmt.Fprintf(out, "%s: %s\n", rec.Address(), rec)
		}
	}
	ep, err := udp.Open[[65507]byte](r, local, onData, udp.WithConfirm(v.GetBool("confirm")))
	if err != nil {
		return err
	}
	defer ep.Close()

	for _, m := range args[2:] {
		if err := ep.SendTo(dest, []byte(m)); err != nil {
			return err
		}
	}
	log.Debug("queued", zap.Int("datagrams", ep.QueueLen()), zap.Stringer("dest", dest))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if wait > 0 {
		stopAfter(ctx, cancel, wait)
	} else {
		go stopWhenDrained(ctx, cancel, r, ep)
	}
	return ignoreCanceled(r.Run(ctx))
}

// stopWhenDrained cancels once every queued datagram has been sent.
func stopWhenDrained(ctx context.Context, cancel context.CancelFunc, r *reactor.Reactor, ep *udp.Endpoint[[65507]byte]) {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		drained := make(chan bool, 1)
		if err := r.Submit(func() { drained <- ep.Drained() }); err != nil {
			cancel()
			return
		}
		select {
		case <-ctx.Done():
			return
		case ok := <-drained:
			if ok {
				cancel()
				return
			}
		}
	}
}
