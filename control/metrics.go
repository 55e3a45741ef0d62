// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Socket activity counters backed by a VictoriaMetrics set.

package control

import (
	"io"
	"sort"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics groups the counters updated by connections and acceptors.
// A nil *Metrics discards updates.
type Metrics struct {
	set *metrics.Set

	bytesIn      *metrics.Counter
	bytesOut     *metrics.Counter
	opened       *metrics.Counter
	closed       *metrics.Counter
	accepted     *metrics.Counter
	overflowed   *metrics.Counter
	acceptErrors *metrics.Counter
	ioErrors     *metrics.Counter
}

var defaultMetrics = NewMetrics("netio")

// DefaultMetrics is shared by components built without WithMetrics.
func DefaultMetrics() *Metrics { return defaultMetrics }

// NewMetrics creates counters named <prefix>_<name>_total.
func NewMetrics(prefix string) *Metrics {
	s := metrics.NewSet()
	c := func(name string) *metrics.Counter {
		return s.GetOrCreateCounter(prefix + "_" + name + "_total")
	}
	return &Metrics{
		set:          s,
		bytesIn:      c("bytes_received"),
		bytesOut:     c("bytes_sent"),
		opened:       c("connections_opened"),
		closed:       c("connections_closed"),
		accepted:     c("accepted"),
		overflowed:   c("accept_overflow"),
		acceptErrors: c("accept_errors"),
		ioErrors:     c("io_errors"),
	}
}

func (m *Metrics) BytesReceived(n int) {
	if m != nil && n > 0 {
		m.bytesIn.Add(n)
	}
}

func (m *Metrics) BytesSent(n int) {
	if m != nil && n > 0 {
		m.bytesOut.Add(n)
	}
}

func (m *Metrics) Opened() {
	if m != nil {
		m.opened.Inc()
	}
}

func (m *Metrics) Closed() {
	if m != nil {
		m.closed.Inc()
	}
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.accepted.Inc()
	}
}

func (m *Metrics) Overflowed() {
	if m != nil {
		m.overflowed.Inc()
	}
}

func (m *Metrics) AcceptError() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}

func (m *Metrics) IOError() {
	if m != nil {
		m.ioErrors.Inc()
	}
}

// WritePrometheus writes the text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Snapshot returns current counter values keyed by short name.
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"bytes_received":     m.bytesIn.Get(),
		"bytes_sent":         m.bytesOut.Get(),
		"connections_opened": m.opened.Get(),
		"connections_closed": m.closed.Get(),
		"accepted":           m.accepted.Get(),
		"accept_overflow":    m.overflowed.Get(),
		"accept_errors":      m.acceptErrors.Get(),
		"io_errors":          m.ioErrors.Get(),
	}
}

// SnapshotKeys lists Snapshot keys in stable order.
func SnapshotKeys(s map[string]uint64) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
