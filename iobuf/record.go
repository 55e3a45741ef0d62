// File: iobuf/record.go
// Author: momentics <momentics@gmail.com>
//
// Record: owned bytes, a consumption offset and an optional address.

package iobuf

import (
	"bytes"
	"strings"

	"github.com/momentics/hioload-netio/sockaddr"
)

// Record is a partially consumable byte buffer. Invariant: off <= len(data).
type Record struct {
	data []byte
	off  int
	addr sockaddr.Address
}

// NewRecord copies p.
func NewRecord(p []byte) *Record {
	return &Record{data: append([]byte(nil), p...)}
}

// NewRecordTo copies p and attaches the source or destination address.
func NewRecordTo(p []byte, addr sockaddr.Address) *Record {
	r := NewRecord(p)
	r.addr = addr
	return r
}

// NewRecordString copies s.
func NewRecordString(s string) *Record {
	return &Record{data: []byte(s)}
}

// Size is the number of unconsumed bytes.
func (r *Record) Size() int {
	if r == nil {
		return 0
	}
	return len(r.data) - r.off
}

// Empty reports Size() == 0.
func (r *Record) Empty() bool { return r.Size() == 0 }

// Bytes returns the unconsumed bytes. The slice aliases the record.
func (r *Record) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.data[r.off:]
}

// Advance consumes n bytes, clamped to Size. Negative n is ignored.
func (r *Record) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > r.Size() {
		n = r.Size()
	}
	r.off += n
}

// Address is the attached address; zero for connection-oriented data.
func (r *Record) Address() sockaddr.Address {
	if r == nil {
		return sockaddr.Address{}
	}
	return r.addr
}

// PotentialStrings counts NUL-separated fragments.
func (r *Record) PotentialStrings() int {
	return bytes.Count(r.Bytes(), []byte{0}) + 1
}

// Strings splits the unconsumed bytes on NUL into printable fragments.
// A trailing NUL does not produce an empty last fragment.
func (r *Record) Strings() []string {
	b := r.Bytes()
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte{0})
	if len(parts) > 1 && len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = printable(p)
	}
	return out
}

// Text renders the bytes up to the first NUL; non-printables become '?'.
func (r *Record) Text() string {
	b := r.Bytes()
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return printable(b)
}

// String is Text, marked with "[...]" when more fragments follow.
func (r *Record) String() string {
	if r.PotentialStrings() > 1 {
		return r.Text() + "[...]"
	}
	return r.Text()
}

func printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			sb.WriteByte('?')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
