package goal

import "strings"

// LinkDiff lists which published fields differ between two Links.
type LinkDiff struct {
	VirtualIfChanged  bool
	PhysicalIfChanged bool
	UpChanged         bool
	MTUChanged        bool
	IPv4AddrChanged   bool
	IPv4MaskChanged   bool
	IPv6Changed       bool
}

// DiffLink compares every published field of a and b. IPv6 is compared by address only;
// a prefix length change alone is not a change.
func DiffLink(a, b *Link) LinkDiff {
	return LinkDiff{
		VirtualIfChanged:  a.VirtualIf != b.VirtualIf,
		PhysicalIfChanged: a.PhysicalIf != b.PhysicalIf,
		UpChanged:         a.Up != b.Up,
		MTUChanged:        a.MTU != b.MTU,
		IPv4AddrChanged:   a.IPv4.Addr() != b.IPv4.Addr(),
		IPv4MaskChanged:   a.IPv4.Bits() != b.IPv4.Bits(),
		IPv6Changed:       a.IPv6.Addr() != b.IPv6.Addr(),
	}
}

// Changed is true if any field differs.
func (d LinkDiff) Changed() bool {
	return d != LinkDiff{}
}

func (d LinkDiff) String() string {
	var fields []string
	add := func(changed bool, name string) {
		if changed {
			fields = append(fields, name)
		}
	}
	add(d.VirtualIfChanged, "virtual")
	add(d.PhysicalIfChanged, "physical")
	add(d.UpChanged, "up")
	add(d.MTUChanged, "mtu")
	add(d.IPv4AddrChanged, "ipv4")
	add(d.IPv4MaskChanged, "netmask")
	add(d.IPv6Changed, "ipv6")
	if len(fields) == 0 {
		return "unchanged"
	}
	return strings.Join(fields, ",")
}
