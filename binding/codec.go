package binding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
	"strconv"
)

// Linux address family values, as stored in the forced address union.
const (
	afInet  = 2
	afInet6 = 10
)

const (
	// RecordSize is the size of one encoded binding record.
	RecordSize = 96
	// SockaddrSize is the size of the forced address union (sockaddr_in6).
	SockaddrSize = 28
)

// record field offsets
const (
	offVirtual    = 0
	offPriority   = 16
	offStatus     = 20
	offPhysical   = 24
	offForcedIPv4 = 40
	offForcedMask = 44
	offForceIP    = 48
	offForcedIPv6 = 76
	offID         = 92
)

// Layout describes the platform-dependent parts of the on-disk format.
type Layout struct {
	// WordSize is the size in bytes of a C unsigned long (8 on LP64, 4 on ILP32).
	WordSize int
}

// NativeLayout returns the layout of the host the daemon runs on.
func NativeLayout() Layout {
	return Layout{WordSize: strconv.IntSize / 8}
}

func (l Layout) Validate() error {
	if l.WordSize != 4 && l.WordSize != 8 {
		return fmt.Errorf("word size must be 4 or 8, not %d", l.WordSize)
	}
	return nil
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}

func (l Layout) offItemCount() int { return align(4, l.WordSize) }
func (l Layout) offRecordID() int  { return l.offItemCount() + l.WordSize }
func (l Layout) offService() int   { return l.offRecordID() + 4 }

// HeaderSize is the encoded size of the file header.
func (l Layout) HeaderSize() int {
	return align(l.offService()+1+7, l.WordSize)
}

var byteOrder = binary.NativeEndian

func (l Layout) decodeHeader(b []byte) (Header, error) {
	if !bytes.Equal(b[:4], Magic[:]) {
		return Header{}, fmt.Errorf("%w: %q", ErrBadMagic, b[:4])
	}
	var h Header
	if l.WordSize == 8 {
		h.ItemCount = byteOrder.Uint64(b[l.offItemCount():])
	} else {
		h.ItemCount = uint64(byteOrder.Uint32(b[l.offItemCount():]))
	}
	h.RecordID = int32(byteOrder.Uint32(b[l.offRecordID():]))
	h.ServiceFlag = b[l.offService()]
	return h, nil
}

func (l Layout) encodeHeader(b []byte, h Header) {
	copy(b[:4], Magic[:])
	if l.WordSize == 8 {
		byteOrder.PutUint64(b[l.offItemCount():], h.ItemCount)
	} else {
		byteOrder.PutUint32(b[l.offItemCount():], uint32(h.ItemCount))
	}
	byteOrder.PutUint32(b[l.offRecordID():], uint32(h.RecordID))
	b[l.offService()] = h.ServiceFlag
}

// CString returns the NUL-terminated string at the start of b.
// If b has no NUL, all of b is returned.
func CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		return string(b[:i])
	}
	return string(b)
}

// PutCString writes s into b, NUL-padded. s is truncated to len(b)-1 bytes.
func PutCString(b []byte, s string) {
	clear(b)
	if len(s) > len(b)-1 {
		s = s[:len(b)-1]
	}
	copy(b, s)
}

// Addr4 decodes 4 raw (network order) bytes; all-zero decodes to the zero Addr.
func Addr4(b []byte) netip.Addr {
	a := netip.AddrFrom4([4]byte(b[:4]))
	if a.IsUnspecified() {
		return netip.Addr{}
	}
	return a
}

// Addr16 decodes 16 raw bytes; all-zero decodes to the zero Addr.
func Addr16(b []byte) netip.Addr {
	a := netip.AddrFrom16([16]byte(b[:16]))
	if a.IsUnspecified() {
		return netip.Addr{}
	}
	return a
}

// PutAddr4 writes a as 4 raw bytes; the zero Addr (or a non-IPv4 Addr) writes zeros.
func PutAddr4(b []byte, a netip.Addr) {
	clear(b[:4])
	if a.Is4() {
		raw := a.As4()
		copy(b, raw[:])
	}
}

// PutAddr16 writes a as 16 raw bytes; the zero Addr writes zeros.
func PutAddr16(b []byte, a netip.Addr) {
	clear(b[:16])
	if a.IsValid() {
		raw := a.As16()
		copy(b, raw[:])
	}
}

// DecodeSockaddr decodes the sockaddr_in/sockaddr_in6 union at the start of b.
func DecodeSockaddr(b []byte) ForcedAddr {
	switch byteOrder.Uint16(b) {
	case afInet:
		if a := Addr4(b[4:]); a.IsValid() {
			return ForcedV4(a)
		}
	case afInet6:
		if a := Addr16(b[8:]); a.IsValid() {
			return ForcedV6(a)
		}
	}
	return ForcedNone()
}

// PutSockaddr encodes f into the union at the start of b.
func PutSockaddr(b []byte, f ForcedAddr) {
	clear(b[:SockaddrSize])
	switch f.Family {
	case FamilyV4:
		byteOrder.PutUint16(b, afInet)
		PutAddr4(b[4:], f.Addr)
	case FamilyV6:
		byteOrder.PutUint16(b, afInet6)
		PutAddr16(b[8:], f.Addr)
	}
}

func decodeRecord(b []byte) Record {
	return Record{
		VirtualIf:      CString(b[offVirtual : offVirtual+IfNameSize]),
		Priority:       b[offPriority],
		Status:         int32(byteOrder.Uint32(b[offStatus:])),
		PhysicalIf:     CString(b[offPhysical : offPhysical+IfNameSize]),
		ForcedIPv4:     Addr4(b[offForcedIPv4:]),
		ForcedIPv4Mask: Addr4(b[offForcedMask:]),
		ForceIP:        DecodeSockaddr(b[offForceIP : offForceIP+SockaddrSize]),
		ForcedIPv6:     Addr16(b[offForcedIPv6:]),
		ID:             int32(byteOrder.Uint32(b[offID:])),
	}
}

func encodeRecord(b []byte, r Record) {
	clear(b[:RecordSize])
	PutCString(b[offVirtual:offVirtual+IfNameSize], r.VirtualIf)
	b[offPriority] = r.Priority
	byteOrder.PutUint32(b[offStatus:], uint32(r.Status))
	PutCString(b[offPhysical:offPhysical+IfNameSize], r.PhysicalIf)
	PutAddr4(b[offForcedIPv4:], r.ForcedIPv4)
	PutAddr4(b[offForcedMask:], r.ForcedIPv4Mask)
	PutSockaddr(b[offForceIP:offForceIP+SockaddrSize], r.ForceIP)
	PutAddr16(b[offForcedIPv6:], r.ForcedIPv6)
	byteOrder.PutUint32(b[offID:], uint32(r.ID))
}

// Decode parses a binding table from r without validating the records.
func Decode(r io.Reader, l Layout) (*Snapshot, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	hb := make([]byte, l.HeaderSize())
	if _, err := io.ReadFull(r, hb); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrTruncated, err)
	}
	h, err := l.decodeHeader(hb)
	if err != nil {
		return nil, err
	}
	if h.ItemCount > MaxBound {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyItems, h.ItemCount, MaxBound)
	}
	rb := make([]byte, int(h.ItemCount)*RecordSize)
	if n, err := io.ReadFull(r, rb); err != nil {
		return nil, fmt.Errorf("%w: read %d of %d record bytes: %w", ErrTruncated, n, len(rb), err)
	}
	s := &Snapshot{Header: h, Records: make([]Record, h.ItemCount)}
	for i := range s.Records {
		s.Records[i] = decodeRecord(rb[i*RecordSize:])
	}
	return s, nil
}

// Encode writes s in the binding table format. Header.ItemCount is taken from len(s.Records).
func Encode(w io.Writer, s *Snapshot, l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	b := make([]byte, l.HeaderSize()+len(s.Records)*RecordSize)
	h := s.Header
	h.ItemCount = uint64(len(s.Records))
	l.encodeHeader(b, h)
	for i, r := range s.Records {
		encodeRecord(b[l.HeaderSize()+i*RecordSize:], r)
	}
	_, err := w.Write(b)
	return err
}
