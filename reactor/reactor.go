// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Reactor options shared by all platform implementations.

package reactor

import (
	"time"

	"go.uber.org/zap"
)

// DefaultPollTimeout bounds one Poll inside Run.
const DefaultPollTimeout = 100 * time.Millisecond

type options struct {
	log         *zap.Logger
	maxEvents   int
	pollTimeout time.Duration
}

// Option configures a Reactor.
type Option func(*options)

// WithLogger sets the logger used for recovered panics and poll errors.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMaxEvents sets the batch size of one epoll_wait.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// WithPollTimeout sets the wait used by Run between stop checks.
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{maxEvents: 128, pollTimeout: DefaultPollTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
