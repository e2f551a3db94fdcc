package probe

import (
	"net/netip"
	"testing"
)

func prefixes(ss ...string) []netip.Prefix {
	ps := make([]netip.Prefix, len(ss))
	for i, s := range ss {
		ps[i] = netip.MustParsePrefix(s)
	}
	return ps
}

func TestSelectIPv4(t *testing.T) {
	addrs := prefixes("2001:db8::1/64", "192.0.2.1/24", "198.51.100.7/25")
	cases := []struct {
		name   string
		wanted string
		want   string
	}{
		{"first", "", "192.0.2.1/24"},
		{"exact", "198.51.100.7", "198.51.100.7/25"},
		{"missing", "203.0.113.9", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var wanted netip.Addr
			if c.wanted != "" {
				wanted = netip.MustParseAddr(c.wanted)
			}
			got := SelectIPv4(addrs, wanted)
			var want netip.Prefix
			if c.want != "" {
				want = netip.MustParsePrefix(c.want)
			}
			if got != want {
				t.Fatalf("got %s, want %s", got, want)
			}
		})
	}
	if got := SelectIPv4(nil, netip.Addr{}); got.IsValid() {
		t.Fatalf("no addresses yielded %s", got)
	}
}

func TestSelectIPv6SkipsLinkLocal(t *testing.T) {
	if got := SelectIPv6(prefixes("fe80::1/64"), netip.Addr{}); got.IsValid() {
		t.Fatalf("link-local selected: %s", got)
	}
	if got := SelectIPv6(prefixes("fe80::1/64"), netip.MustParseAddr("fe80::1")); got.IsValid() {
		t.Fatalf("wanted link-local selected: %s", got)
	}
	addrs := prefixes("192.0.2.1/24", "fe80::1/64", "2001:db8::5/64", "2001:db8::6/64")
	if got := SelectIPv6(addrs, netip.Addr{}); got != netip.MustParsePrefix("2001:db8::5/64") {
		t.Fatalf("got %s", got)
	}
	if got := SelectIPv6(addrs, netip.MustParseAddr("2001:db8::6")); got != netip.MustParsePrefix("2001:db8::6/64") {
		t.Fatalf("got %s", got)
	}
}

func TestIsLinkLocal6(t *testing.T) {
	for s, want := range map[string]bool{
		"fe80::1":     true,
		"febf::1":     true,
		"fec0::1":     false,
		"2001:db8::1": false,
		"169.254.0.1": false,
	} {
		if got := IsLinkLocal6(netip.MustParseAddr(s)); got != want {
			t.Errorf("IsLinkLocal6(%s) = %v", s, got)
		}
	}
}
