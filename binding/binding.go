// Package binding reads and validates the binary interface binding table (ifbind.conf),
// which maps virtual IPsec interfaces to the physical devices they ride on.
package binding

import (
	"fmt"
	"net/netip"
	"slices"
)

const (
	// MaxBound is the number of priority slots (and ipsec interfaces) supported.
	MaxBound = 4
	// IfNameSize is the platform interface name buffer size, including the NUL.
	IfNameSize = 16
	// VirtualPrefix is the name prefix every virtual interface carries.
	VirtualPrefix = "ipsec"
)

// Magic identifies a binding table file.
var Magic = [4]byte{'I', 'F', 'B', 'D'}

type Family uint8

const (
	FamilyNone Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "none"
	}
}

func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Family) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*f = FamilyNone
	case "v4":
		*f = FamilyV4
	case "v6":
		*f = FamilyV6
	default:
		return fmt.Errorf("unknown address family %q", text)
	}
	return nil
}

// ForcedAddr is the forced address of a binding: none, an IPv4 address, or an IPv6 address.
type ForcedAddr struct {
	Family Family     `json:"family" yaml:"family"`
	Addr   netip.Addr `json:"addr,omitempty" yaml:"addr"`
}

func ForcedNone() ForcedAddr { return ForcedAddr{} }

func ForcedV4(addr netip.Addr) ForcedAddr { return ForcedAddr{Family: FamilyV4, Addr: addr} }

func ForcedV6(addr netip.Addr) ForcedAddr { return ForcedAddr{Family: FamilyV6, Addr: addr} }

func (f ForcedAddr) String() string {
	if f.Family == FamilyNone {
		return "none"
	}
	return fmt.Sprintf("%s(%s)", f.Family, f.Addr)
}

type Header struct {
	ItemCount   uint64
	RecordID    int32
	ServiceFlag byte
}

// Record binds one virtual interface to one physical interface.
type Record struct {
	VirtualIf  string
	PhysicalIf string
	Priority   uint8
	Status     int32

	// ForcedIPv4 is the IPv4 address to publish for PhysicalIf.
	// The zero Addr means "first address found".
	ForcedIPv4     netip.Addr
	ForcedIPv4Mask netip.Addr
	// ForcedIPv6 is the IPv6 address to publish for PhysicalIf.
	// The zero Addr means "first global address found".
	ForcedIPv6 netip.Addr
	ForceIP    ForcedAddr

	ID int32
}

// Snapshot is a validated binding table. It must not be modified once returned by Load.
type Snapshot struct {
	Header  Header
	Records []Record
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

func (s *Snapshot) ByPriority(priority uint8) (r Record, ok bool) {
	i, ok := s.ByPriorityIndex(priority)
	if !ok {
		return Record{}, false
	}
	return s.Records[i], true
}

func (s *Snapshot) ByPriorityIndex(priority uint8) (i int, ok bool) {
	if s == nil {
		return 0, false
	}
	i = slices.IndexFunc(s.Records, func(r Record) bool { return r.Priority == priority })
	return i, i != -1
}

// ForPhysical returns the records bound to the given physical interface, in table order.
func (s *Snapshot) ForPhysical(name string) []Record {
	if s == nil {
		return nil
	}
	var rs []Record
	for _, r := range s.Records {
		if r.PhysicalIf == name {
			rs = append(rs, r)
		}
	}
	return rs
}

// Physicals returns the distinct physical interface names, in table order.
func (s *Snapshot) Physicals() []string {
	if s == nil {
		return nil
	}
	var names []string
	for _, r := range s.Records {
		if !slices.Contains(names, r.PhysicalIf) {
			names = append(names, r.PhysicalIf)
		}
	}
	return names
}

func (a *Snapshot) Equal(b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Header == b.Header && slices.Equal(a.Records, b.Records)
}
