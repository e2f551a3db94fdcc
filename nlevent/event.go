// Package nlevent turns rtnetlink multicast notifications into interface change events.
package nlevent

import (
	"errors"
	"fmt"
	"net"
)

// ErrWouldBlock is returned by Poll when nothing arrived before the receive timeout.
var ErrWouldBlock = errors.New("no netlink message before timeout")

type Kind int

const (
	LinkChanged Kind = iota + 1
	AddressChanged
	NeighborRemoved
	// Overrun means the kernel dropped notifications; every interface should be rechecked.
	Overrun
)

func (k Kind) String() string {
	switch k {
	case LinkChanged:
		return "link"
	case AddressChanged:
		return "address"
	case NeighborRemoved:
		return "neighbor-removed"
	case Overrun:
		return "overrun"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Event struct {
	Kind  Kind
	Index int
	// Name is the interface name. Decode only fills it for link messages that carry it.
	Name string
	// Family is the address family of an AddressChanged event.
	Family int
	// Removed is set for RTM_DELLINK and RTM_DELADDR.
	Removed bool
}

func (e Event) String() string {
	verb := "changed"
	if e.Removed {
		verb = "removed"
	}
	switch e.Kind {
	case AddressChanged:
		return fmt.Sprintf("%s (%d): address (family %d) %s", e.Name, e.Index, e.Family, verb)
	case Overrun:
		return "overrun"
	default:
		return fmt.Sprintf("%s (%d): %s %s", e.Name, e.Index, e.Kind, verb)
	}
}

// Resolver maps interface indices to names.
type Resolver interface {
	NameByIndex(index int) (string, error)
}

// NetResolver resolves through the net package.
type NetResolver struct{}

func (NetResolver) NameByIndex(index int) (string, error) {
	iface, err := net.InterfaceByIndex(index)
	if err != nil {
		return "", err
	}
	return iface.Name, nil
}
