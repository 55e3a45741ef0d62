// File: iobuf/packet.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity datagram buffer, a value type parameterized by its storage array.

package iobuf

import (
	"io"
	"unsafe"
)

// Storage lists the backing arrays a Packet can use.
type Storage interface {
	~[512]byte | ~[1024]byte | ~[1472]byte | ~[4096]byte | ~[65507]byte
}

// Packet is a fixed-capacity byte buffer with a fill length.
type Packet[S Storage] struct {
	buf S
	n   int
}

// DefaultPacket holds up to 1024 bytes.
type DefaultPacket = Packet[[1024]byte]

// MaxDatagram holds any UDP/IPv4 payload.
type MaxDatagram = Packet[[65507]byte]

func (p *Packet[S]) raw() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&p.buf)), unsafe.Sizeof(p.buf))
}

// Cap is the fixed capacity.
func (p *Packet[S]) Cap() int { return int(unsafe.Sizeof(p.buf)) }

// Len is the number of filled bytes.
func (p *Packet[S]) Len() int { return p.n }

// Bytes returns the filled bytes.
func (p *Packet[S]) Bytes() []byte { return p.raw()[:p.n] }

// Free returns the unfilled tail for direct reads; commit with Advance.
func (p *Packet[S]) Free() []byte { return p.raw()[p.n:] }

// Advance extends the fill length by n. It fails if n exceeds the free space.
func (p *Packet[S]) Advance(n int) bool {
	if n < 0 || n > p.Cap()-p.n {
		return false
	}
	p.n += n
	return true
}

// Append copies as much of b as fits and returns the count copied.
func (p *Packet[S]) Append(b []byte) int {
	c := copy(p.Free(), b)
	p.n += c
	return c
}

// AppendString is Append for strings.
func (p *Packet[S]) AppendString(s string) int {
	c := copy(p.Free(), s)
	p.n += c
	return c
}

// Write implements io.Writer; truncation reports io.ErrShortWrite.
func (p *Packet[S]) Write(b []byte) (int, error) {
	c := p.Append(b)
	if c < len(b) {
		return c, io.ErrShortWrite
	}
	return c, nil
}

// Reset empties the packet.
func (p *Packet[S]) Reset() { p.n = 0 }

