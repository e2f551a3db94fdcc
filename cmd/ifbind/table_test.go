package main

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nyiyui/linkd/binding"
)

const sampleYAML = `recordID: 7
serviceFlag: 1
bindings:
  - virtual: ipsec0
    physical: eth0
    priority: 0
  - virtual: ipsec1
    physical: wwan0
    priority: 1
    forcedIPv4: 10.0.0.2
    forcedIPv4Mask: 255.255.255.0
    forceIP:
      family: v4
      addr: 10.0.0.2
`

func TestCompileDump(t *testing.T) {
	for _, ws := range []int{4, 8} {
		l := binding.Layout{WordSize: ws}
		var bin bytes.Buffer
		err := compile(strings.NewReader(sampleYAML), &bin, l)
		if err != nil {
			t.Fatalf("word size %d: compile: %s", ws, err)
		}
		s, err := binding.Decode(bytes.NewReader(bin.Bytes()), l)
		if err != nil {
			t.Fatalf("word size %d: decode: %s", ws, err)
		}
		want := []binding.Record{
			{VirtualIf: "ipsec0", PhysicalIf: "eth0", Priority: 0},
			{
				VirtualIf:      "ipsec1",
				PhysicalIf:     "wwan0",
				Priority:       1,
				ForcedIPv4:     netip.MustParseAddr("10.0.0.2"),
				ForcedIPv4Mask: netip.MustParseAddr("255.255.255.0"),
				ForceIP:        binding.ForcedV4(netip.MustParseAddr("10.0.0.2")),
			},
		}
		if diff := cmp.Diff(want, s.Records, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
			t.Fatalf("word size %d: records (-want +got)\n%s", ws, diff)
		}
		if s.Header.RecordID != 7 || s.Header.ServiceFlag != 1 {
			t.Fatalf("word size %d: header %+v", ws, s.Header)
		}

		var out bytes.Buffer
		err = dump(bytes.NewReader(bin.Bytes()), &out, l)
		if err != nil {
			t.Fatalf("word size %d: dump: %s", ws, err)
		}
		var again bytes.Buffer
		err = compile(&out, &again, l)
		if err != nil {
			t.Fatalf("word size %d: recompiling dump: %s\n%s", ws, err, out.String())
		}
		if !bytes.Equal(bin.Bytes(), again.Bytes()) {
			t.Fatalf("word size %d: dump does not compile back to the same table", ws)
		}
	}
}

func TestCompileRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"duplicate priority": "bindings:\n  - {virtual: ipsec0, physical: eth0, priority: 0}\n  - {virtual: ipsec1, physical: eth1, priority: 0}\n",
		"bad virtual":        "bindings:\n  - {virtual: tun0, physical: eth0, priority: 0}\n",
		"unknown field":      "bindings:\n  - {virtual: ipsec0, physical: eth0, priority: 0, mtu: 1400}\n",
		"bad address":        "bindings:\n  - {virtual: ipsec0, physical: eth0, priority: 0, forcedIPv4: nope}\n",
	} {
		var out bytes.Buffer
		if err := compile(strings.NewReader(doc), &out, binding.NativeLayout()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
