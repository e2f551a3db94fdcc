package binding

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nyiyui/linkd/retry"
)

var addrComparer = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Header: Header{ItemCount: 2, RecordID: 7, ServiceFlag: 1},
		Records: []Record{
			{
				VirtualIf:  "ipsec0",
				PhysicalIf: "eth0",
				Priority:   0,
				Status:     1,
				ID:         100,
			},
			{
				VirtualIf:      "ipsec1",
				PhysicalIf:     "ppp0",
				Priority:       1,
				ForcedIPv4:     netip.MustParseAddr("198.51.100.7"),
				ForcedIPv4Mask: netip.MustParseAddr("255.255.255.0"),
				ForcedIPv6:     netip.MustParseAddr("2001:db8::7"),
				ForceIP:        ForcedV6(netip.MustParseAddr("2001:db8::7")),
				ID:             101,
			},
		},
	}
}

func writeTable(t *testing.T, s *Snapshot, l Layout) string {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, s, l); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ifbind.conf")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func noWaitOptions(l Layout) LoadOptions {
	return LoadOptions{
		Layout: l,
		OpenRetry: retry.Policy{
			Attempts: 3,
			Interval: 10 * time.Second,
			Wait:     func(ctx context.Context, d time.Duration) error { return nil },
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, l := range []Layout{{WordSize: 8}, {WordSize: 4}} {
		want := sampleSnapshot()
		path := writeTable(t, want, l)
		got, err := Load(context.Background(), path, noWaitOptions(l))
		if err != nil {
			t.Fatalf("word size %d: %s", l.WordSize, err)
		}
		if !cmp.Equal(got, want, addrComparer) {
			t.Fatalf("word size %d:\n%s", l.WordSize, cmp.Diff(got, want, addrComparer))
		}
	}
}

func TestHeaderSize(t *testing.T) {
	if got := (Layout{WordSize: 8}).HeaderSize(); got != 32 {
		t.Fatalf("LP64 header size = %d", got)
	}
	if got := (Layout{WordSize: 4}).HeaderSize(); got != 20 {
		t.Fatalf("ILP32 header size = %d", got)
	}
}

func TestForcedAddrUnion(t *testing.T) {
	tests := []ForcedAddr{
		ForcedNone(),
		ForcedV4(netip.MustParseAddr("192.0.2.1")),
		ForcedV6(netip.MustParseAddr("2001:db8::1")),
	}
	for _, want := range tests {
		b := make([]byte, SockaddrSize)
		PutSockaddr(b, want)
		got := DecodeSockaddr(b)
		if got != want {
			t.Errorf("union round trip: got %s, want %s", got, want)
		}
	}
}

func TestLoadRejects(t *testing.T) {
	l := Layout{WordSize: 8}
	good := writeTable(t, sampleSnapshot(), l)

	badMagic := filepath.Join(t.TempDir(), "bad-magic")
	data, _ := os.ReadFile(good)
	data = bytes.Clone(data)
	copy(data, "XXXX")
	os.WriteFile(badMagic, data, 0600)

	tooMany := &Snapshot{}
	for i := 0; i < 5; i++ {
		tooMany.Records = append(tooMany.Records, Record{VirtualIf: "ipsec0", PhysicalIf: "eth0"})
	}
	tooManyPath := writeTable(t, tooMany, l)

	// header announces 2 records, only one and a bit follow
	truncated := filepath.Join(t.TempDir(), "truncated")
	copy(data, "IFBD")
	os.WriteFile(truncated, data[:l.HeaderSize()+RecordSize+3], 0600)

	invalid := sampleSnapshot()
	invalid.Records[1].VirtualIf = "gre1"
	invalidPath := writeTable(t, invalid, l)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"magic", badMagic, ErrBadMagic},
		{"too-many", tooManyPath, ErrTooManyItems},
		{"truncated", truncated, ErrTruncated},
		{"invalid", invalidPath, ErrInvalid},
		{"missing", filepath.Join(t.TempDir(), "nope"), ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(good, noWaitOptions(l))
			if _, err := store.Reload(context.Background()); err != nil {
				t.Fatal(err)
			}
			before := store.Current()

			store.path = tt.path
			_, err := store.Reload(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if store.Current() != before {
				t.Fatal("snapshot replaced after failed reload")
			}
			if !store.Current().Equal(sampleSnapshot()) {
				t.Fatal("previous snapshot modified")
			}
		})
	}
}

func TestOpenRetryContract(t *testing.T) {
	var waits []time.Duration
	opts := LoadOptions{
		Layout: Layout{WordSize: 8},
		OpenRetry: retry.Policy{
			Attempts: DefaultOpenRetry.Attempts,
			Interval: DefaultOpenRetry.Interval,
			Wait: func(ctx context.Context, d time.Duration) error {
				waits = append(waits, d)
				return nil
			},
		},
	}
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent"), opts)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v", err)
	}
	// 3 attempts means 2 waits between them.
	want := []time.Duration{10 * time.Second, 10 * time.Second}
	if !cmp.Equal(waits, want) {
		t.Fatal(cmp.Diff(waits, want))
	}
}

func TestValidateRecord(t *testing.T) {
	base := Record{VirtualIf: "ipsec3", PhysicalIf: "eth0", Priority: 3}
	tests := []struct {
		name   string
		modify func(r *Record)
		ok     bool
	}{
		{"ok", func(r *Record) {}, true},
		{"prefix", func(r *Record) { r.VirtualIf = "tun0" }, false},
		{"suffix-range", func(r *Record) { r.VirtualIf = "ipsec4" }, false},
		{"suffix-negative", func(r *Record) { r.VirtualIf = "ipsec-1" }, false},
		{"suffix-missing", func(r *Record) { r.VirtualIf = "ipsec" }, false},
		{"suffix-plus", func(r *Record) { r.VirtualIf = "ipsec+1" }, false},
		{"suffix-minus-zero", func(r *Record) { r.VirtualIf = "ipsec-0" }, false},
		{"suffix-space", func(r *Record) { r.VirtualIf = "ipsec 1" }, false},
		{"suffix-leading-zero", func(r *Record) { r.VirtualIf = "ipsec01" }, true},
		{"physical-empty", func(r *Record) { r.PhysicalIf = "" }, false},
		{"physical-long", func(r *Record) { r.PhysicalIf = "abcdefghijklmnop" }, false},
		{"physical-max", func(r *Record) { r.PhysicalIf = "abcdefghijklmno" }, true},
		{"priority", func(r *Record) { r.Priority = 4 }, false},
	}
	for _, tt := range tests {
		r := base
		tt.modify(&r)
		err := ValidateRecord(r)
		if (err == nil) != tt.ok {
			t.Errorf("%s: ok = %t, err = %v", tt.name, tt.ok, err)
		}
	}
}

func TestValidateDuplicatePriority(t *testing.T) {
	s := sampleSnapshot()
	s.Records[1].Priority = 0
	if err := Validate(s); !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v", err)
	}
}

func TestLookups(t *testing.T) {
	s := sampleSnapshot()
	s.Records = append(s.Records, Record{VirtualIf: "ipsec2", PhysicalIf: "eth0", Priority: 2})
	got := s.ForPhysical("eth0")
	if len(got) != 2 || got[0].Priority != 0 || got[1].Priority != 2 {
		t.Fatalf("ForPhysical(eth0) = %+v", got)
	}
	if r, ok := s.ByPriority(1); !ok || r.PhysicalIf != "ppp0" {
		t.Fatalf("ByPriority(1) = %+v, %t", r, ok)
	}
	if _, ok := s.ByPriority(3); ok {
		t.Fatal("ByPriority(3) found a record")
	}
	if !cmp.Equal(s.Physicals(), []string{"eth0", "ppp0"}) {
		t.Fatalf("Physicals() = %v", s.Physicals())
	}
	var nilSnap *Snapshot
	if nilSnap.Len() != 0 || nilSnap.ForPhysical("eth0") != nil {
		t.Fatal("nil snapshot lookups")
	}
}
