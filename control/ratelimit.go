// control/ratelimit.go
// Author: momentics <momentics@gmail.com>
//
// Periodic reset of per-connection write burst counters.

package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Resettable is implemented by rate-limited connections.
type Resettable interface {
	ResetBurst()
}

// BurstReset zeroes the burst counters of its members once per interval.
// The reset itself runs through submit, normally Reactor.Submit, so it
// executes on the reactor goroutine.
type BurstReset struct {
	clk      clock.Clock
	interval time.Duration
	submit   func(func()) error
	log      *zap.Logger

	members *xsync.MapOf[uint64, Resettable]
	nextID  atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBurstReset creates a resetter; clk may be clock.NewMock() in tests.
func NewBurstReset(clk clock.Clock, interval time.Duration, submit func(func()) error, log *zap.Logger) *BurstReset {
	if log == nil {
		log = zap.NewNop()
	}
	return &BurstReset{
		clk:      clk,
		interval: interval,
		submit:   submit,
		log:      log,
		members:  xsync.NewMapOf[uint64, Resettable](),
	}
}

// Add enrolls r and returns its removal func.
func (b *BurstReset) Add(r Resettable) (remove func()) {
	id := b.nextID.Add(1)
	b.members.Store(id, r)
	return func() { b.members.Delete(id) }
}

// Len is the number of enrolled members.
func (b *BurstReset) Len() int { return b.members.Size() }

// Tick schedules one reset of every member.
func (b *BurstReset) Tick() {
	err := b.submit(func() {
		b.members.Range(func(_ uint64, r Resettable) bool {
			r.ResetBurst()
			return true
		})
	})
	if err != nil {
		b.log.Warn("burst reset not scheduled", zap.Error(err))
	}
}

// Start arms the ticker and resets until ctx is done or Stop is called.
func (b *BurstReset) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	t := b.clk.Ticker(b.interval)
	go func() {
		defer close(b.done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.Tick()
			}
		}
	}()
}

// Stop disarms the ticker and waits for its goroutine to exit.
// No Tick runs after Stop returns.
func (b *BurstReset) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}
