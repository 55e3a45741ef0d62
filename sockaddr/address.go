// File: sockaddr/address.go
// Author: momentics <momentics@gmail.com>
//
// Address: a raw sockaddr union plus an explicit byte length.

package sockaddr

import (
	"bytes"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netio/api"
)

// Family tags the contents of an Address.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
	FamilyUnix
	FamilyNetlink
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	case FamilyUnix:
		return "Unix"
	case FamilyNetlink:
		return "Netlink"
	default:
		return "Unspec"
	}
}

// Domain returns the AF_* constant used for socket(2).
func (f Family) Domain() int {
	switch f {
	case FamilyIPv4:
		return unix.AF_INET
	case FamilyIPv6:
		return unix.AF_INET6
	case FamilyUnix:
		return unix.AF_UNIX
	case FamilyNetlink:
		return unix.AF_NETLINK
	default:
		return unix.AF_UNSPEC
	}
}

func familyOf(af uint16) Family {
	switch af {
	case unix.AF_INET:
		return FamilyIPv4
	case unix.AF_INET6:
		return FamilyIPv6
	case unix.AF_UNIX:
		return FamilyUnix
	case unix.AF_NETLINK:
		return FamilyNetlink
	default:
		return FamilyUnspec
	}
}

// Address is a socket endpoint. The zero value is an unspecified address
// of size 0, used by connection-oriented records.
type Address struct {
	raw unix.RawSockaddrAny
	len uint32
}

func mismatch(want Family, got uint16) error {
	return api.Errorf(api.ErrCodeAddressFamilyMismatch, "sockaddr",
		"expected %s, structure carries family %d", want, got)
}

// FromInet4 copies a native IPv4 structure.
func FromInet4(sa *unix.RawSockaddrInet4) (Address, error) {
	var a Address
	if sa.Family != unix.AF_INET {
		return a, mismatch(FamilyIPv4, sa.Family)
	}
	*(*unix.RawSockaddrInet4)(unsafe.Pointer(&a.raw)) = *sa
	a.len = unix.SizeofSockaddrInet4
	return a, nil
}

// FromInet6 copies a native IPv6 structure.
func FromInet6(sa *unix.RawSockaddrInet6) (Address, error) {
	var a Address
	if sa.Family != unix.AF_INET6 {
		return a, mismatch(FamilyIPv6, sa.Family)
	}
	*(*unix.RawSockaddrInet6)(unsafe.Pointer(&a.raw)) = *sa
	a.len = unix.SizeofSockaddrInet6
	return a, nil
}

// FromUnix copies a native Unix-domain structure.
func FromUnix(sa *unix.RawSockaddrUnix) (Address, error) {
	var a Address
	if sa.Family != unix.AF_UNIX {
		return a, mismatch(FamilyUnix, sa.Family)
	}
	*(*unix.RawSockaddrUnix)(unsafe.Pointer(&a.raw)) = *sa
	a.len = unix.SizeofSockaddrUnix
	return a, nil
}

// FromNetlink copies a native Netlink structure.
func FromNetlink(sa *unix.RawSockaddrNetlink) (Address, error) {
	var a Address
	if sa.Family != unix.AF_NETLINK {
		return a, mismatch(FamilyNetlink, sa.Family)
	}
	*(*unix.RawSockaddrNetlink)(unsafe.Pointer(&a.raw)) = *sa
	a.len = unix.SizeofSockaddrNetlink
	return a, nil
}

// FromStorage sniffs the family tag of untyped storage and copies the
// matching structure.
func FromStorage(raw *unix.RawSockaddrAny) (Address, error) {
	p := unsafe.Pointer(raw)
	switch raw.Addr.Family {
	case unix.AF_INET:
		return FromInet4((*unix.RawSockaddrInet4)(p))
	case unix.AF_INET6:
		return FromInet6((*unix.RawSockaddrInet6)(p))
	case unix.AF_UNIX:
		return FromUnix((*unix.RawSockaddrUnix)(p))
	case unix.AF_NETLINK:
		return FromNetlink((*unix.RawSockaddrNetlink)(p))
	}
	return Address{}, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "sockaddr",
		"family %d", raw.Addr.Family)
}

// FromAddrPort builds an IPv4 or IPv6 address. IPv4-mapped IPv6 addresses
// stay IPv6.
func FromAddrPort(ap netip.AddrPort) (Address, error) {
	ip := ap.Addr()
	switch {
	case ip.Is4():
		sa := unix.RawSockaddrInet4{Family: unix.AF_INET, Addr: ip.As4()}
		putPort(&sa.Port, ap.Port())
		return FromInet4(&sa)
	case ip.Is6():
		sa := unix.RawSockaddrInet6{Family: unix.AF_INET6, Addr: ip.As16()}
		putPort(&sa.Port, ap.Port())
		if z := ip.Zone(); z != "" {
			id, err := zoneIndex(z)
			if err != nil {
				return Address{}, err
			}
			sa.Scope_id = id
		}
		return FromInet6(&sa)
	}
	return Address{}, api.Errorf(api.ErrCodeInvalidArgument, "sockaddr", "invalid IP %q", ip)
}

// FromUnixPath builds a Unix-domain address for path.
func FromUnixPath(path string) (Address, error) {
	sa := unix.RawSockaddrUnix{Family: unix.AF_UNIX}
	if path == "" || len(path) >= len(sa.Path) {
		return Address{}, api.Errorf(api.ErrCodeInvalidArgument, "sockaddr",
			"unix path length %d outside 1..%d", len(path), len(sa.Path)-1)
	}
	for i := 0; i < len(path); i++ {
		sa.Path[i] = int8(path[i])
	}
	return FromUnix(&sa)
}

// FromNetlinkIDs builds a Netlink address.
func FromNetlinkIDs(pid, groups uint32) Address {
	sa := unix.RawSockaddrNetlink{Family: unix.AF_NETLINK, Pid: pid, Groups: groups}
	a, _ := FromNetlink(&sa)
	return a
}

// FromSockaddr converts the typed form returned by accept, recvfrom and
// getsockname.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		raw := unix.RawSockaddrInet4{Family: unix.AF_INET, Addr: v.Addr}
		putPort(&raw.Port, uint16(v.Port))
		return FromInet4(&raw)
	case *unix.SockaddrInet6:
		raw := unix.RawSockaddrInet6{Family: unix.AF_INET6, Addr: v.Addr, Scope_id: v.ZoneId}
		putPort(&raw.Port, uint16(v.Port))
		return FromInet6(&raw)
	case *unix.SockaddrUnix:
		if v.Name == "" {
			// unnamed peer of a unix listener
			raw := unix.RawSockaddrUnix{Family: unix.AF_UNIX}
			return FromUnix(&raw)
		}
		return FromUnixPath(v.Name)
	case *unix.SockaddrNetlink:
		return FromNetlinkIDs(v.Pid, v.Groups), nil
	case nil:
		return Address{}, nil
	}
	return Address{}, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "sockaddr", "%T", sa)
}

// Family returns the tag.
func (a Address) Family() Family {
	if a.len == 0 {
		return FamilyUnspec
	}
	return familyOf(a.raw.Addr.Family)
}

// Size is the exact structure length for OS calls.
func (a Address) Size() int { return int(a.len) }

// IsIP reports IPv4 or IPv6.
func (a Address) IsIP() bool {
	f := a.Family()
	return f == FamilyIPv4 || f == FamilyIPv6
}

func (a *Address) inet4() *unix.RawSockaddrInet4 {
	return (*unix.RawSockaddrInet4)(unsafe.Pointer(&a.raw))
}

func (a *Address) inet6() *unix.RawSockaddrInet6 {
	return (*unix.RawSockaddrInet6)(unsafe.Pointer(&a.raw))
}

func (a *Address) unixPath() *unix.RawSockaddrUnix {
	return (*unix.RawSockaddrUnix)(unsafe.Pointer(&a.raw))
}

func (a *Address) netlink() *unix.RawSockaddrNetlink {
	return (*unix.RawSockaddrNetlink)(unsafe.Pointer(&a.raw))
}

func (a Address) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&a.raw)), a.len)
}

// Equal compares family, length and raw contents.
func (a Address) Equal(b Address) bool {
	return a.len == b.len && bytes.Equal(a.bytes(), b.bytes())
}

// Port returns the port of an IP address, 0 otherwise.
func (a Address) Port() int {
	switch a.Family() {
	case FamilyIPv4:
		return int(getPort(&a.inet4().Port))
	case FamilyIPv6:
		return int(getPort(&a.inet6().Port))
	}
	return 0
}

// AddrPort returns the IP endpoint; ok is false for non-IP families.
func (a Address) AddrPort() (ap netip.AddrPort, ok bool) {
	switch a.Family() {
	case FamilyIPv4:
		r := a.inet4()
		return netip.AddrPortFrom(netip.AddrFrom4(r.Addr), getPort(&r.Port)), true
	case FamilyIPv6:
		r := a.inet6()
		return netip.AddrPortFrom(netip.AddrFrom16(r.Addr), getPort(&r.Port)), true
	}
	return ap, false
}

// Path returns the filesystem path of a Unix address.
func (a Address) Path() string {
	if a.Family() != FamilyUnix {
		return ""
	}
	r := a.unixPath()
	n := 0
	for n < len(r.Path) && r.Path[n] != 0 {
		n++
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Path[i])
	}
	return string(b)
}

// Sockaddr converts to the typed form expected by x/sys/unix calls.
func (a Address) Sockaddr() (unix.Sockaddr, error) {
	switch a.Family() {
	case FamilyIPv4:
		r := a.inet4()
		return &unix.SockaddrInet4{Port: int(getPort(&r.Port)), Addr: r.Addr}, nil
	case FamilyIPv6:
		r := a.inet6()
		return &unix.SockaddrInet6{Port: int(getPort(&r.Port)), ZoneId: r.Scope_id, Addr: r.Addr}, nil
	case FamilyUnix:
		return &unix.SockaddrUnix{Name: a.Path()}, nil
	case FamilyNetlink:
		r := a.netlink()
		return &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pad: r.Pad, Pid: r.Pid, Groups: r.Groups}, nil
	}
	return nil, api.Errorf(api.ErrCodeAddressFamilyUnsupported, "sockaddr", "%s", a.Family())
}

// String renders the diagnostic form.
func (a Address) String() string {
	switch a.Family() {
	case FamilyIPv4:
		ap, _ := a.AddrPort()
		return fmt.Sprintf("IPv4 %s:%d", ap.Addr(), ap.Port())
	case FamilyIPv6:
		ap, _ := a.AddrPort()
		return fmt.Sprintf("IPv6 [%s]:%d", ap.Addr(), ap.Port())
	case FamilyUnix:
		return "UnixSocket " + a.Path()
	case FamilyNetlink:
		r := a.netlink()
		return fmt.Sprintf("Netlink g:%d p:%d pid:%d", r.Groups, r.Pad, r.Pid)
	}
	return "Unknown Socket Address Type"
}

// ports are stored in network byte order

func getPort(p *uint16) uint16 {
	b := (*[2]byte)(unsafe.Pointer(p))
	return uint16(b[0])<<8 | uint16(b[1])
}

func putPort(p *uint16, port uint16) {
	b := (*[2]byte)(unsafe.Pointer(p))
	b[0] = byte(port >> 8)
	b[1] = byte(port)
}
