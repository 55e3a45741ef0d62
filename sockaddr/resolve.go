// File: sockaddr/resolve.go
// Author: momentics <momentics@gmail.com>
//
// Host/service resolution into ordered candidate addresses.

package sockaddr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/momentics/hioload-netio/api"
)

// SocketType selects the transport a resolution is for.
type SocketType int

const (
	TypeTCP SocketType = iota
	TypeUDP
	TypeUnix
)

func (t SocketType) String() string {
	switch t {
	case TypeTCP:
		return "tcp"
	case TypeUDP:
		return "udp"
	case TypeUnix:
		return "unix"
	default:
		return "unknown"
	}
}

// ParseSocketType accepts "tcp", "udp" and "unix".
func ParseSocketType(s string) (SocketType, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return TypeTCP, nil
	case "udp":
		return TypeUDP, nil
	case "unix":
		return TypeUnix, nil
	}
	return 0, api.Errorf(api.ErrCodeInvalidArgument, "resolve", "unknown socket type %q", s)
}

// Resolver is the subset of *net.Resolver used for lookups.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

// DefaultResolver is used by Resolve and ResolveFirst.
var DefaultResolver Resolver = net.DefaultResolver

// Reason classifies a resolver failure.
type Reason int

const (
	ReasonFailure Reason = iota
	ReasonTemporary
	ReasonTimeout
	ReasonNoName
	ReasonService
)

func (r Reason) String() string {
	switch r {
	case ReasonTemporary:
		return "temporary failure"
	case ReasonTimeout:
		return "timeout"
	case ReasonNoName:
		return "no such name"
	case ReasonService:
		return "unknown service"
	default:
		return "non-recoverable failure"
	}
}

// ResolveError is a ResolutionFailed error carrying the classification.
type ResolveError struct {
	Host    string
	Service string
	Reason  Reason
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %s:%s: %s", e.Host, e.Service, e.Reason)
	}
	return fmt.Sprintf("resolve %s:%s: %s: %v", e.Host, e.Service, e.Reason, e.Err)
}

// Unwrap matches api.ErrResolutionFailed and the resolver's own error.
func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{api.ErrResolutionFailed}
	}
	return []error{api.ErrResolutionFailed, e.Err}
}

// Temporary reports whether retrying later may succeed.
func (e *ResolveError) Temporary() bool {
	return e.Reason == ReasonTemporary || e.Reason == ReasonTimeout
}

func classify(err error) Reason {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &dnsErr):
		switch {
		case dnsErr.IsTimeout:
			return ReasonTimeout
		case dnsErr.IsNotFound:
			return ReasonNoName
		case dnsErr.IsTemporary:
			return ReasonTemporary
		}
	}
	return ReasonFailure
}

// Resolve resolves with DefaultResolver.
func Resolve(ctx context.Context, host, service string, typ SocketType) ([]Address, error) {
	return ResolveWith(ctx, DefaultResolver, host, service, typ)
}

// ResolveFirst returns the preferred candidate.
func ResolveFirst(ctx context.Context, host, service string, typ SocketType) (Address, error) {
	cands, err := Resolve(ctx, host, service, typ)
	if err != nil {
		return Address{}, err
	}
	return cands[0], nil
}

// ResolveWith turns host and service into candidates. Literal IPs
// (bracketed IPv6 included) skip the name lookup. Looked-up IPv6
// candidates precede IPv4 ones; relative order within a family is kept.
// For TypeUnix, host is the socket path and service is ignored.
func ResolveWith(ctx context.Context, r Resolver, host, service string, typ SocketType) ([]Address, error) {
	if typ == TypeUnix {
		a, err := FromUnixPath(host)
		if err != nil {
			return nil, err
		}
		return []Address{a}, nil
	}
	if host == "" {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "resolve", "empty host")
	}
	port, err := lookupPort(ctx, r, host, service, typ)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(host, "[") {
		ip, err := parseBracketed(host)
		if err != nil {
			return nil, err
		}
		a, err := FromAddrPort(netip.AddrPortFrom(ip, port))
		if err != nil {
			return nil, err
		}
		return []Address{a}, nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		a, err := FromAddrPort(netip.AddrPortFrom(ip, port))
		if err != nil {
			return nil, err
		}
		return []Address{a}, nil
	}

	ips, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &ResolveError{Host: host, Service: service, Reason: classify(err), Err: err}
	}
	v6 := make([]Address, 0, len(ips))
	var v4 []Address
	for _, ipa := range ips {
		ip, ok := netip.AddrFromSlice(ipa.IP)
		if !ok {
			continue
		}
		ip = ip.WithZone(ipa.Zone)
		if ip.Is4In6() {
			ip = ip.Unmap()
		}
		a, err := FromAddrPort(netip.AddrPortFrom(ip, port))
		if err != nil {
			continue
		}
		if a.Family() == FamilyIPv6 {
			v6 = append(v6, a)
		} else {
			v4 = append(v4, a)
		}
	}
	cands := append(v6, v4...)
	if len(cands) == 0 {
		return nil, api.Errorf(api.ErrCodeNoCandidates, "resolve", "%s yielded no addresses", host)
	}
	return cands, nil
}

func parseBracketed(host string) (netip.Addr, error) {
	if !strings.HasSuffix(host, "]") {
		return netip.Addr{}, api.Errorf(api.ErrCodeInvalidArgument, "resolve", "malformed literal %q", host)
	}
	ip, err := netip.ParseAddr(host[1 : len(host)-1])
	if err != nil || !ip.Is6() {
		return netip.Addr{}, api.Errorf(api.ErrCodeInvalidArgument, "resolve", "malformed literal %q", host)
	}
	return ip, nil
}

func lookupPort(ctx context.Context, r Resolver, host, service string, typ SocketType) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(service); err == nil {
		if n < 0 || n > 65535 {
			return 0, api.Errorf(api.ErrCodeInvalidArgument, "resolve", "port %d out of range", n)
		}
		return uint16(n), nil
	}
	p, err := r.LookupPort(ctx, typ.String(), service)
	if err != nil {
		return 0, &ResolveError{Host: host, Service: service, Reason: ReasonService, Err: err}
	}
	return uint16(p), nil
}

func zoneIndex(zone string) (uint32, error) {
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "resolve", err).WithContext("zone", zone)
	}
	return uint32(ifi.Index), nil
}
