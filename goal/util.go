package goal

import (
	"net"
	"net/netip"
)

// IPNet converts p to the net package's representation, keeping the host bits.
func IPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   p.Addr().AsSlice(),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

// PrefixFromIPNet converts n, keeping the host bits. A non-canonical mask yields a
// zero-length prefix.
func PrefixFromIPNet(n *net.IPNet) netip.Prefix {
	if n == nil {
		return netip.Prefix{}
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}
	}
	ones, _ := n.Mask.Size()
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, ones)
}

// MaskAddr returns the IPv4 netmask of p as an address (e.g. 255.255.255.0).
// The zero Prefix (or an IPv6 one) yields the zero Addr.
func MaskAddr(p netip.Prefix) netip.Addr {
	if !p.IsValid() || !p.Addr().Is4() {
		return netip.Addr{}
	}
	mask := net.CIDRMask(p.Bits(), 32)
	return netip.AddrFrom4([4]byte(mask))
}

// PrefixFromMask builds an IPv4 prefix from an address and a netmask address.
// A zero addr yields the zero Prefix.
func PrefixFromMask(addr, mask netip.Addr) netip.Prefix {
	if !addr.IsValid() {
		return netip.Prefix{}
	}
	ones := 0
	if mask.IsValid() {
		ones, _ = net.IPMask(mask.AsSlice()).Size()
	}
	return netip.PrefixFrom(addr, ones)
}
