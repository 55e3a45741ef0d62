// File: framing/line.go
// Author: momentics <momentics@gmail.com>
//
// Line-oriented framing in front of a connection's inbound callback.

package framing

import "github.com/momentics/hioload-netio/iobuf"

// DefaultMaxLine bounds a line when New is given max <= 0.
const DefaultMaxLine = 4096

// Source is anything that delivers inbound chunks, e.g. *conn.Connection.
type Source interface {
	SetDataCallback(fn func(*iobuf.Record))
}

// LineHandler receives a message; complete is false for a forced
// overflow emission.
type LineHandler func(msg []byte, complete bool)

// SearchFunc finds the first delimiter at or after start. It returns the
// index where the line ends and the index following the delimiter, or
// end < 0 when there is none.
type SearchFunc func(data []byte, start int) (end, next int)

// DefaultSearch recognizes LF, CR and CR-LF as one delimiter.
func DefaultSearch(data []byte, start int) (end, next int) {
	for i := start; i < len(data); i++ {
		switch data[i] {
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				return i, i + 2
			}
			return i, i + 1
		case '\n':
			return i, i + 1
		}
	}
	return -1, -1
}

// LineBuffer reassembles arbitrary chunking into delimiter-terminated
// messages. A line longer than the maximum is force-emitted as incomplete.
//
// A CR ending one chunk followed by an LF starting the next is treated as a
// single CR-LF delimiter. Custom search functions that produce other
// delimiters spanning chunk boundaries are not reassembled.
type LineBuffer struct {
	acc       []byte
	max       int
	search    SearchFunc
	onLine    LineHandler
	crPending bool
}

// Option customizes a LineBuffer.
type Option func(*LineBuffer)

// WithSearch replaces DefaultSearch.
func WithSearch(fn SearchFunc) Option {
	return func(lb *LineBuffer) { lb.search = fn }
}

// New installs a LineBuffer as src's inbound callback.
func New(src Source, max int, onLine LineHandler, opts ...Option) *LineBuffer {
	lb := NewLineBuffer(max, onLine, opts...)
	src.SetDataCallback(lb.Feed)
	return lb
}

// NewLineBuffer creates a detached LineBuffer; feed it with Push or Feed.
func NewLineBuffer(max int, onLine LineHandler, opts ...Option) *LineBuffer {
	if max <= 0 {
		max = DefaultMaxLine
	}
	lb := &LineBuffer{max: max, search: DefaultSearch, onLine: onLine}
	for _, fn := range opts {
		fn(lb)
	}
	return lb
}

// Feed consumes an inbound record.
func (lb *LineBuffer) Feed(r *iobuf.Record) { lb.Push(r.Bytes()) }

// Push consumes one chunk.
func (lb *LineBuffer) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	start := 0
	if lb.crPending && data[0] == '\n' {
		start = 1
	}
	lb.crPending = false

	for start <= len(data) {
		end, next := lb.search(data, start)
		if end < 0 {
			break
		}
		line := make([]byte, 0, len(lb.acc)+end-start)
		line = append(line, lb.acc...)
		line = append(line, data[start:end]...)
		lb.acc = lb.acc[:0]
		lb.crPending = next == len(data) && next == end+1 && data[end] == '\r'
		lb.onLine(line, true)
		start = next
	}
	if start < len(data) {
		lb.acc = append(lb.acc, data[start:]...)
		lb.crPending = false
	}
	if len(lb.acc) > lb.max {
		out := append([]byte(nil), lb.acc...)
		lb.acc = lb.acc[:0]
		lb.onLine(out, false)
	}
}

// Pending is the number of buffered bytes of an unterminated line.
func (lb *LineBuffer) Pending() int { return len(lb.acc) }

// Reset drops any partial line.
func (lb *LineBuffer) Reset() {
	lb.acc = lb.acc[:0]
	lb.crPending = false
}
