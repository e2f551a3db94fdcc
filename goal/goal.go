// Package goal describes the state a virtual IPsec interface should mirror, and applies it.
// Note: application is best-effort; every step is attempted and reported on its own.

package goal

import (
	"fmt"
	"net/netip"

	"github.com/nyiyui/linkd/binding"
)

// Link is the published state of one priority slot: a virtual interface and the live state
// of the physical interface it is bound to.
type Link struct {
	Priority   uint8  `json:"priority"`
	VirtualIf  string `json:"virtual"`
	PhysicalIf string `json:"physical"`

	Up bool `json:"up"`
	// UpV6 is true when the link is up and has a global IPv6 address.
	UpV6 bool   `json:"upV6"`
	MTU  uint32 `json:"mtu"`

	// IPv4 is the physical interface's address and mask. The zero Prefix means no address.
	IPv4 netip.Prefix `json:"ipv4"`
	// IPv6 is the physical interface's global address. The zero Prefix means no address.
	IPv6 netip.Prefix `json:"ipv6"`

	ForceIP binding.ForcedAddr `json:"forceIP"`
}

func (l Link) String() string {
	state := "down"
	if l.Up {
		state = "up"
	}
	return fmt.Sprintf("%d:%s→%s %s mtu %d v4 %s v6 %s", l.Priority, l.VirtualIf, l.PhysicalIf, state, l.MTU, prefixString(l.IPv4), prefixString(l.IPv6))
}

func prefixString(p netip.Prefix) string {
	if !p.IsValid() {
		return "-"
	}
	return p.String()
}
