// control/lifecycle.go
// Author: momentics <momentics@gmail.com>
//
// Service-manager notifications (sd_notify protocol).

package control

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
)

// Notifier reports lifecycle transitions to the service manager.
// Without NOTIFY_SOCKET every call is a silent no-op.
type Notifier struct {
	log    *zap.Logger
	notify func(unsetEnvironment bool, state string) (bool, error)
}

// NewNotifier creates a notifier bound to the process environment.
func NewNotifier(log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify}
}

func (n *Notifier) send(state string) bool {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
		return false
	}
	return sent
}

// Ready is sent once all listeners are bound.
func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

// Reloading is sent when a config reload starts.
func (n *Notifier) Reloading() bool { return n.send(daemon.SdNotifyReloading) }

// Stopping is sent when shutdown begins.
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// Watchdog is the keep-alive ping.
func (n *Notifier) Watchdog() bool { return n.send(daemon.SdNotifyWatchdog) }

// Status publishes a free-form status line.
func (n *Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

// StartWatchdog pings at half the manager's interval until ctx is done.
// It returns false when the manager does not expect pings.
func (n *Notifier) StartWatchdog(ctx context.Context, clk clock.Clock) bool {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog interval unreadable", zap.Error(err))
		return false
	}
	if interval <= 0 {
		return false
	}
	t := clk.Ticker(interval / 2)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n.Watchdog()
			}
		}
	}()
	return true
}
