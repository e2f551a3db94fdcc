package goal

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffLink(t *testing.T) {
	a := Link{
		Priority:   0,
		VirtualIf:  "ipsec0",
		PhysicalIf: "eth0",
		Up:         true,
		MTU:        1500,
		IPv4:       netip.MustParsePrefix("203.0.113.5/24"),
	}
	if DiffLink(&a, &a).Changed() {
		t.Fatal("link differs from itself")
	}
	b := a
	b.IPv4 = netip.MustParsePrefix("203.0.113.5/25")
	b.IPv6 = netip.MustParsePrefix("2001:db8::5/64")
	b.MTU = 1400
	got := DiffLink(&a, &b)
	want := LinkDiff{
		MTUChanged:      true,
		IPv4MaskChanged: true,
		IPv6Changed:     true,
	}
	if !cmp.Equal(got, want) {
		t.Log(cmp.Diff(got, want))
		t.Fatal("mismatch")
	}
	if got.String() != "mtu,netmask,ipv6" {
		t.Fatalf("String() = %q", got.String())
	}
}

func TestDiffLinkEachField(t *testing.T) {
	base := Link{VirtualIf: "ipsec1", PhysicalIf: "eth1", MTU: 1500}
	mods := map[string]func(l *Link){
		"virtual":  func(l *Link) { l.VirtualIf = "ipsec2" },
		"physical": func(l *Link) { l.PhysicalIf = "eth2" },
		"up":       func(l *Link) { l.Up = true },
		"mtu":      func(l *Link) { l.MTU = 9000 },
		"ipv4":     func(l *Link) { l.IPv4 = netip.MustParsePrefix("192.0.2.1/24") },
		"ipv6":     func(l *Link) { l.IPv6 = netip.MustParsePrefix("2001:db8::1/64") },
	}
	for name, mod := range mods {
		b := base
		mod(&b)
		if !DiffLink(&base, &b).Changed() {
			t.Errorf("%s: change not detected", name)
		}
	}
}

func TestDiffLinkIPv6PrefixLength(t *testing.T) {
	a := Link{VirtualIf: "ipsec0", PhysicalIf: "eth0", IPv6: netip.MustParsePrefix("2001:db8::5/64")}
	b := a
	b.IPv6 = netip.MustParsePrefix("2001:db8::5/48")
	if d := DiffLink(&a, &b); d.Changed() {
		t.Fatalf("prefix length alone reported as %s", d)
	}
	b.IPv6 = netip.MustParsePrefix("2001:db8::6/64")
	if !DiffLink(&a, &b).IPv6Changed {
		t.Fatal("address change not detected")
	}
}

func TestPrefixConversions(t *testing.T) {
	p := netip.MustParsePrefix("203.0.113.5/24")
	if got := PrefixFromIPNet(IPNet(p)); got != p {
		t.Fatalf("round trip = %s", got)
	}
	if got := MaskAddr(p); got != netip.MustParseAddr("255.255.255.0") {
		t.Fatalf("MaskAddr = %s", got)
	}
	if got := PrefixFromMask(p.Addr(), netip.MustParseAddr("255.255.255.0")); got != p {
		t.Fatalf("PrefixFromMask = %s", got)
	}
	if got := PrefixFromMask(netip.Addr{}, netip.MustParseAddr("255.255.255.0")); got.IsValid() {
		t.Fatalf("PrefixFromMask(zero) = %s", got)
	}
	if MaskAddr(netip.Prefix{}).IsValid() {
		t.Fatal("MaskAddr of zero prefix is valid")
	}
}
