//go:build linux

package nlevent

import (
	"encoding/binary"
	"fmt"

	"github.com/nyiyui/linkd/binding"
	"github.com/vishvananda/netlink/nl"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// struct ndmsg
const sizeofNdmsg = 12

func nlmsgAlign(n int) int {
	return (n + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
}

// Decode splits b into netlink messages and returns the events they describe, in order.
// Messages of other types are ignored; malformed ones are skipped and counted.
func Decode(b []byte) (events []Event, skipped int) {
	for len(b) >= unix.SizeofNlMsghdr {
		length := int(binary.NativeEndian.Uint32(b[0:4]))
		typ := binary.NativeEndian.Uint16(b[4:6])
		if length < unix.SizeofNlMsghdr || length > len(b) {
			zap.S().Warnf("netlink: bad message length %d (%d bytes left); dropping rest of buffer", length, len(b))
			skipped++
			return events, skipped
		}
		body := b[unix.SizeofNlMsghdr:length]
		ev, ok, err := decodeMessage(typ, body)
		if err != nil {
			zap.S().Warnf("netlink: skipping message type %d: %s", typ, err)
			skipped++
		} else if ok {
			events = append(events, ev)
		}
		next := nlmsgAlign(length)
		if next > len(b) {
			break
		}
		b = b[next:]
	}
	return events, skipped
}

type shortError struct {
	what      string
	got, want int
}

func (e shortError) Error() string {
	return fmt.Sprintf("short %s: %d bytes, need %d", e.what, e.got, e.want)
}

func decodeMessage(typ uint16, body []byte) (Event, bool, error) {
	switch typ {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		if len(body) < unix.SizeofIfInfomsg {
			return Event{}, false, shortError{"ifinfomsg", len(body), unix.SizeofIfInfomsg}
		}
		msg := nl.DeserializeIfInfomsg(body)
		ev := Event{
			Kind:    LinkChanged,
			Index:   int(msg.Index),
			Removed: typ == unix.RTM_DELLINK,
		}
		attrs, err := nl.ParseRouteAttr(body[unix.SizeofIfInfomsg:])
		if err != nil {
			// the header alone still identifies the device
			zap.S().Debugf("netlink: link %d: attributes: %s", msg.Index, err)
			return ev, true, nil
		}
		for _, attr := range attrs {
			if attr.Attr.Type == unix.IFLA_IFNAME {
				ev.Name = binding.CString(attr.Value)
			}
		}
		return ev, true, nil
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		if len(body) < unix.SizeofIfAddrmsg {
			return Event{}, false, shortError{"ifaddrmsg", len(body), unix.SizeofIfAddrmsg}
		}
		msg := nl.DeserializeIfAddrmsg(body)
		return Event{
			Kind:    AddressChanged,
			Index:   int(msg.Index),
			Family:  int(msg.Family),
			Removed: typ == unix.RTM_DELADDR,
		}, true, nil
	case unix.RTM_DELNEIGH:
		if len(body) < sizeofNdmsg {
			return Event{}, false, shortError{"ndmsg", len(body), sizeofNdmsg}
		}
		index := int32(binary.NativeEndian.Uint32(body[4:8]))
		return Event{Kind: NeighborRemoved, Index: int(index)}, true, nil
	default:
		return Event{}, false, nil
	}
}
