// Package probe reads the live state of physical interfaces.
package probe

import (
	"errors"
	"net/netip"
)

// ErrDeviceGone is returned when the interface cannot be queried at all.
var ErrDeviceGone = errors.New("device gone")

// Flags is the link-level state of an interface.
type Flags struct {
	Up  bool
	MTU uint32
}

// Prober queries one interface at a time. Addresses that are not present are the zero
// Prefix, not an error.
type Prober interface {
	// IPv4 returns the address matching wanted, or the first one if wanted is the zero Addr.
	IPv4(name string, wanted netip.Addr) (netip.Prefix, error)
	// IPv6 is like IPv4, but never returns a link-local address.
	IPv6(name string, wanted netip.Addr) (netip.Prefix, error)
	LinkFlags(name string) (Flags, error)
}

var linkLocal6 = netip.MustParsePrefix("fe80::/10")

// IsLinkLocal6 reports whether addr is in fe80::/10.
func IsLinkLocal6(addr netip.Addr) bool {
	return addr.Is6() && !addr.Is4In6() && linkLocal6.Contains(addr)
}

// SelectIPv4 picks from addrs (in kernel order) the IPv4 address a binding should publish.
func SelectIPv4(addrs []netip.Prefix, wanted netip.Addr) netip.Prefix {
	for _, p := range addrs {
		if !p.Addr().Is4() {
			continue
		}
		if wanted.IsValid() && p.Addr() != wanted {
			continue
		}
		return p
	}
	return netip.Prefix{}
}

// SelectIPv6 picks from addrs (in kernel order) the IPv6 address a binding should publish.
// Link-local addresses are never picked, even when wanted.
func SelectIPv6(addrs []netip.Prefix, wanted netip.Addr) netip.Prefix {
	for _, p := range addrs {
		a := p.Addr()
		if !a.Is6() || a.Is4In6() {
			continue
		}
		if IsLinkLocal6(a) {
			continue
		}
		if wanted.IsValid() && a != wanted {
			continue
		}
		return p
	}
	return netip.Prefix{}
}
