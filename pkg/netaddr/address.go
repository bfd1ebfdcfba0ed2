// Package netaddr implements the tagged socket-address encoding used on the
// bscheduler wire: a one-byte address family followed by a family-specific
// body. It has no dependency on the kernel or wire packages so that both can
// depend on it without import cycles.
package netaddr

import (
	"fmt"
	"net"
)

// Family identifies the wire encoding of an Address.
type Family byte

// Family tags as fixed by the wire format.
const (
	FamilyNone Family = 0
	FamilyUnix Family = 1
	FamilyIPv4 Family = 2
	FamilyIPv6 Family = 10
)

// Address is a socket endpoint: an IPv4/IPv6 host+port pair or a Unix
// socket path. The zero value is the empty address (FamilyNone).
type Address struct {
	Family Family
	IP     net.IP
	Port   uint16
	Path   string
}

// Empty reports whether a is the unset address, used for purely local
// kernels that never touch the network.
func (a Address) Empty() bool {
	return a.Family == FamilyNone
}

// Equal reports whether two addresses denote the same endpoint.
func (a Address) Equal(b Address) bool {
	if a.Family != b.Family {
		return false
	}
	switch a.Family {
	case FamilyNone:
		return true
	case FamilyUnix:
		return a.Path == b.Path
	default:
		return a.IP.Equal(b.IP) && a.Port == b.Port
	}
}

func (a Address) String() string {
	switch a.Family {
	case FamilyNone:
		return "<none>"
	case FamilyUnix:
		return "unix:" + a.Path
	case FamilyIPv6:
		return fmt.Sprintf("[%s]:%d", a.IP, a.Port)
	default:
		return fmt.Sprintf("%s:%d", a.IP, a.Port)
	}
}

// FromTCPAddr builds an Address from a resolved TCP endpoint.
func FromTCPAddr(a *net.TCPAddr) Address {
	if a == nil {
		return Address{}
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		return Address{Family: FamilyIPv4, IP: ip4, Port: uint16(a.Port)}
	}
	return Address{Family: FamilyIPv6, IP: a.IP.To16(), Port: uint16(a.Port)}
}

// FromUnixAddr builds an Address from a resolved Unix endpoint.
func FromUnixAddr(a *net.UnixAddr) Address {
	if a == nil {
		return Address{}
	}
	return Address{Family: FamilyUnix, Path: a.Name}
}

// Virtual returns the "virtual address" used to identify a peer regardless
// of its ephemeral source port: (remote-ip, local-bind-port) for IP
// families, or the address unchanged for Unix-family peers.
func Virtual(remote Address, localBindPort uint16) Address {
	if remote.Family == FamilyUnix || remote.Family == FamilyNone {
		return remote
	}
	return Address{Family: remote.Family, IP: remote.IP, Port: localBindPort}
}
