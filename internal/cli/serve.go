// File: internal/cli/serve.go
// Author: momentics <momentics@gmail.com>
//
// serve: line echo over TCP and Unix sockets.

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-netio/control"
	"github.com/momentics/hioload-netio/internal/echo"
	"github.com/momentics/hioload-netio/reactor"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the line echo server",
		Long: `Run a CRLF line echo server on TCP and, optionally, a Unix socket.
Lines longer than --line-max are answered with an error, "QUIT" closes the
connection. SIGUSR1 logs internal counters.`,
		RunE: runServe,
	}
	d := control.DefaultConfig()
	f := cmd.Flags()
	f.String("listen", d.ListenAddr, WrapString("TCP listen address host:port, empty disables TCP"))
	f.String("unix-path", d.UnixPath, WrapString("Unix socket path, empty disables the Unix listener"))
	f.Uint("max-connections", d.MaxConnections, WrapString("live connections per listener, 0 is unlimited"))
	f.Uint("rate-limit", d.RateLimit, WrapString("write attempts per peer and reset interval, 0 is unlimited"))
	f.Duration("rate-reset-interval", d.RateResetInterval, WrapString("how often write bursts are reset"))
	f.Bool("low-latency", d.LowLatency, WrapString("set TCP_NODELAY and TCP_QUICKACK on accepted peers"))
	f.Bool("reuse-addr", d.ReuseAddr, WrapString("set SO_REUSEADDR on the TCP listener"))
	f.Int("line-max", d.LineMax, WrapString("longest accepted line in bytes"))
	f.Int("read-chunk", d.ReadChunk, WrapString("bytes read per readiness event"))
	f.Duration("poll-timeout", d.PollTimeout, WrapString("upper bound of one reactor poll"))
	f.Duration("status-interval", d.StatusInterval, WrapString("how often status is published to the service manager, 0 disables"))
	f.Bool("metrics-dump", false, WrapString("write Prometheus metrics to stderr on exit"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(v)
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

	r, err := reactor.New(reactor.WithLogger(log.Named("reactor")), reactor.WithPollTimeout(cfg.PollTimeout))
	if err != nil {
		return err
	}
	defer r.Close()

	clk := clock.New()
	store := control.NewConfigStore(cfg)
	metrics := control.DefaultMetrics()
	svc := echo.New(r, store, clk, metrics, log.Named("echo"))
	if err := svc.Start(ctx); err != nil {
		return err
	}

	probes := control.NewProbes()
	control.RegisterPlatformProbes(probes)
	svc.RegisterProbes(probes)

	notifier := control.NewNotifier(log.Named("systemd"))
	watchConfig(v, store, notifier, log)
	go report(ctx, clk, cfg.StatusInterval, svc, notifier, probes, log)

	notifier.Ready()
	notifier.StartWatchdog(ctx, clk)
	log.Info("serving", zap.Stringer("tcp", svc.TCPAddress()), zap.String("unix", svc.UnixPath()))

	runErr := r.Run(ctx)
	notifier.Stopping()
	err = multierr.Append(ignoreCanceled(runErr), svc.Close())
	log.Info("stopped", probes.Fields()...)
	if v.GetBool("metrics-dump") {
		metrics.WritePrometheus(os.Stderr)
	}
	return err
}

func watchConfig(v *viper.Viper, store *control.ConfigStore, n *control.Notifier, log *zap.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		n.Reloading()
		defer n.Ready()
		cfg, err := LoadConfig(v)
		if err == nil {
			err = store.Update(cfg)
		}
		if err != nil {
			log.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()
}

// report publishes status periodically and dumps probes on SIGUSR1.
func report(ctx context.Context, clk clock.Clock, every time.Duration, svc *echo.Service,
	n *control.Notifier, probes *control.Probes, log *zap.Logger) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	var tick <-chan time.Time
	if every > 0 {
		t := clk.Ticker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			n.Status(svc.Status())
		case <-usr1:
			log.Info("state", probes.Fields()...)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
