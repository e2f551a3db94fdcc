package shm

import (
	"encoding/binary"
	"net/netip"

	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/goal"
)

// link record field offsets that do not depend on the word size
const (
	offPriority   = 0
	offLinkState  = 1
	offLinkState6 = 2
	offVirtual    = 5
	offPhysical   = offVirtual + binding.IfNameSize
	offRealIf     = offPhysical + binding.IfNameSize
	namesEnd      = offRealIf + binding.IfNameSize
)

// peer identity slot sizes
const (
	PeerNameSize = 16
	pidSize      = 4
)

var byteOrder = binary.NativeEndian

func align(n, to int) int {
	return (n + to - 1) / to * to
}

// linkLayout holds the word-size dependent offsets of one link record.
type linkLayout struct {
	w       int
	ipv4    int
	netmask int
	gateway int
	forceIP int
	gwIPv6  int
	ipv6    int
	prefix  int
	mtu     int
	size    int
}

func newLinkLayout(l binding.Layout) linkLayout {
	w := l.WordSize
	ll := linkLayout{w: w}
	ll.ipv4 = align(namesEnd, w)
	ll.netmask = ll.ipv4 + w
	ll.gateway = ll.netmask + w
	ll.forceIP = ll.gateway + w
	ll.gwIPv6 = align(ll.forceIP+binding.SockaddrSize, w)
	ll.ipv6 = ll.gwIPv6 + 4*w
	ll.prefix = ll.ipv6 + 4*w
	ll.mtu = ll.prefix + w
	ll.size = ll.mtu + w
	return ll
}

// LinkSize is the encoded size of one link record.
func LinkSize(l binding.Layout) int {
	return newLinkLayout(l).size
}

// segment offsets
type segmentLayout struct {
	link      linkLayout
	links     int
	peerNames int
	peerPIDs  int
	size      int
}

func newSegmentLayout(l binding.Layout) segmentLayout {
	s := segmentLayout{link: newLinkLayout(l)}
	s.links = align(4, l.WordSize)
	s.peerNames = s.links + binding.MaxBound*s.link.size
	s.peerPIDs = s.peerNames + binding.MaxBound*PeerNameSize
	s.size = align(s.peerPIDs+binding.MaxBound*pidSize, l.WordSize)
	return s
}

// SegmentSize is the size of the whole shared region.
func SegmentSize(l binding.Layout) int {
	return newSegmentLayout(l).size
}

func (ll linkLayout) putWord(b []byte, v uint32) {
	if ll.w == 8 {
		byteOrder.PutUint64(b, uint64(v))
	} else {
		byteOrder.PutUint32(b, v)
	}
}

func (ll linkLayout) word(b []byte) uint32 {
	if ll.w == 8 {
		return uint32(byteOrder.Uint64(b))
	}
	return byteOrder.Uint32(b)
}

// putAddrWord stores 4 raw address bytes the way C assigns an in_addr_t to an unsigned long.
func (ll linkLayout) putAddrWord(b []byte, raw []byte) {
	ll.putWord(b, byteOrder.Uint32(raw))
}

func (ll linkLayout) addrWord(b []byte, raw []byte) {
	byteOrder.PutUint32(raw, ll.word(b))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// encodeLink writes link into b, which must be at least ll.size long.
func (ll linkLayout) encodeLink(b []byte, link goal.Link) {
	clear(b[:ll.size])
	b[offPriority] = link.Priority
	b[offLinkState] = boolByte(link.Up)
	b[offLinkState6] = boolByte(link.UpV6)
	binding.PutCString(b[offVirtual:offVirtual+binding.IfNameSize], link.VirtualIf)
	binding.PutCString(b[offPhysical:offPhysical+binding.IfNameSize], link.PhysicalIf)
	binding.PutCString(b[offRealIf:offRealIf+binding.IfNameSize], link.PhysicalIf)

	var raw [16]byte
	binding.PutAddr4(raw[:], link.IPv4.Addr())
	ll.putAddrWord(b[ll.ipv4:], raw[:4])
	binding.PutAddr4(raw[:], goal.MaskAddr(link.IPv4))
	ll.putAddrWord(b[ll.netmask:], raw[:4])

	binding.PutSockaddr(b[ll.forceIP:ll.forceIP+binding.SockaddrSize], link.ForceIP)

	binding.PutAddr16(raw[:], link.IPv6.Addr())
	for i := 0; i < 4; i++ {
		ll.putAddrWord(b[ll.ipv6+i*ll.w:], raw[i*4:i*4+4])
	}
	if link.IPv6.IsValid() {
		ll.putWord(b[ll.prefix:], uint32(link.IPv6.Bits()))
	}
	ll.putWord(b[ll.mtu:], link.MTU)
}

func (ll linkLayout) decodeLink(b []byte) goal.Link {
	link := goal.Link{
		Priority:   b[offPriority],
		Up:         b[offLinkState] != 0,
		UpV6:       b[offLinkState6] != 0,
		VirtualIf:  binding.CString(b[offVirtual : offVirtual+binding.IfNameSize]),
		PhysicalIf: binding.CString(b[offPhysical : offPhysical+binding.IfNameSize]),
		ForceIP:    binding.DecodeSockaddr(b[ll.forceIP : ll.forceIP+binding.SockaddrSize]),
		MTU:        ll.word(b[ll.mtu:]),
	}
	var raw [16]byte
	ll.addrWord(b[ll.ipv4:], raw[:4])
	addr := binding.Addr4(raw[:])
	ll.addrWord(b[ll.netmask:], raw[:4])
	link.IPv4 = goal.PrefixFromMask(addr, binding.Addr4(raw[:]))

	for i := 0; i < 4; i++ {
		ll.addrWord(b[ll.ipv6+i*ll.w:], raw[i*4:i*4+4])
	}
	if addr6 := binding.Addr16(raw[:]); addr6.IsValid() {
		link.IPv6 = netip.PrefixFrom(addr6, int(ll.word(b[ll.prefix:])))
	}
	return link
}
