//go:build linux

package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/nyiyui/linkd/goal"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// Netlink probes interfaces over rtnetlink.
type Netlink struct {
	Handle *netlink.Handle
}

var _ Prober = (*Netlink)(nil)

func NewNetlink() (*Netlink, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return &Netlink{Handle: h}, nil
}

func (n *Netlink) Close() {
	n.Handle.Close()
}

func (n *Netlink) link(name string) (netlink.Link, error) {
	link, err := n.Handle.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrDeviceGone)
		}
		return nil, fmt.Errorf("%s: %w: %w", name, ErrDeviceGone, err)
	}
	return link, nil
}

func (n *Netlink) addrs(name string, family int) ([]netip.Prefix, error) {
	link, err := n.link(name)
	if err != nil {
		return nil, err
	}
	list, err := n.Handle.AddrList(link, family)
	if err != nil {
		return nil, fmt.Errorf("listing addresses of %s: %w", name, err)
	}
	addrs := make([]netip.Prefix, 0, len(list))
	for _, a := range list {
		p := goal.PrefixFromIPNet(a.IPNet)
		if !p.IsValid() {
			zap.S().Debugf("%s: skipping unparseable address %s", name, a.IPNet)
			continue
		}
		addrs = append(addrs, p)
	}
	return addrs, nil
}

func (n *Netlink) IPv4(name string, wanted netip.Addr) (netip.Prefix, error) {
	addrs, err := n.addrs(name, netlink.FAMILY_V4)
	if err != nil {
		return netip.Prefix{}, err
	}
	return SelectIPv4(addrs, wanted), nil
}

func (n *Netlink) IPv6(name string, wanted netip.Addr) (netip.Prefix, error) {
	addrs, err := n.addrs(name, netlink.FAMILY_V6)
	if err != nil {
		return netip.Prefix{}, err
	}
	return SelectIPv6(addrs, wanted), nil
}

func (n *Netlink) LinkFlags(name string) (Flags, error) {
	link, err := n.link(name)
	if err != nil {
		return Flags{}, err
	}
	attrs := link.Attrs()
	return Flags{
		Up:  attrs.Flags&net.FlagUp != 0,
		MTU: uint32(attrs.MTU),
	}, nil
}
