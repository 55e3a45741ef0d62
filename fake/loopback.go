// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import "github.com/momentics/hioload-netio/iobuf"

// Loopback is a data source without a socket: Feed hands bytes straight
// to the installed callback.
type Loopback struct {
	cb func(*iobuf.Record)
}

// SetDataCallback installs the inbound callback.
func (l *Loopback) SetDataCallback(fn func(*iobuf.Record)) { l.cb = fn }

// Feed delivers p as one chunk. It reports false when no callback is set.
func (l *Loopback) Feed(p []byte) bool {
	if l.cb == nil {
		return false
	}
	l.cb(iobuf.NewRecord(p))
	return true
}

// FeedString is Feed for strings.
func (l *Loopback) FeedString(s string) bool { return l.Feed([]byte(s)) }
