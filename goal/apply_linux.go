//go:build linux

package goal

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

type Handle = netlink.Handle

func NewHandle() (*Handle, error) {
	h, err := netlink.NewHandle()
	return h, err
}

// NetlinkCommander configures interfaces over rtnetlink. Listener refresh still goes
// through Runner, as it is not a kernel operation.
type NetlinkCommander struct {
	Handle         *Handle
	Runner         Runner
	RefreshCommand []string
}

var _ Commander = (*NetlinkCommander)(nil)

func (c *NetlinkCommander) link(ifName string) (netlink.Link, error) {
	link, err := c.Handle.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", ifName, err)
	}
	return link, nil
}

// SetAddress makes addr the only IPv4 address of ifName, like ifconfig does.
func (c *NetlinkCommander) SetAddress(ctx context.Context, ifName string, addr netip.Prefix) error {
	link, err := c.link(ifName)
	if err != nil {
		return err
	}
	existing, err := c.Handle.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("listing addresses of %s: %w", ifName, err)
	}
	for _, a := range existing {
		if PrefixFromIPNet(a.IPNet) == addr {
			continue
		}
		zap.S().Debugf("removing address %s from %s", a.IPNet, ifName)
		err = c.Handle.AddrDel(link, &a)
		if err != nil {
			return fmt.Errorf("removing address %s from %s: %w", a.IPNet, ifName, err)
		}
	}
	zap.S().Debugf("setting address %s on %s", addr, ifName)
	err = c.Handle.AddrReplace(link, &netlink.Addr{IPNet: IPNet(addr)})
	if err != nil {
		return fmt.Errorf("setting address %s on %s: %w", addr, ifName, err)
	}
	return nil
}

func (c *NetlinkCommander) AddIPv6Address(ctx context.Context, ifName string, addr netip.Prefix) error {
	link, err := c.link(ifName)
	if err != nil {
		return err
	}
	err = c.Handle.AddrReplace(link, &netlink.Addr{IPNet: IPNet(addr)})
	if err != nil {
		return fmt.Errorf("adding address %s to %s: %w", addr, ifName, err)
	}
	return nil
}

func (c *NetlinkCommander) SetMTU(ctx context.Context, ifName string, mtu uint32) error {
	link, err := c.link(ifName)
	if err != nil {
		return err
	}
	err = c.Handle.LinkSetMTU(link, int(mtu))
	if err != nil {
		return fmt.Errorf("setting mtu %d on %s: %w", mtu, ifName, err)
	}
	return nil
}

func (c *NetlinkCommander) SetLinkDown(ctx context.Context, ifName string) error {
	link, err := c.link(ifName)
	if err != nil {
		return err
	}
	err = c.Handle.LinkSetDown(link)
	if err != nil {
		return fmt.Errorf("link set down %s: %w", ifName, err)
	}
	return nil
}

func (c *NetlinkCommander) SetLinkUp(ctx context.Context, ifName string) error {
	link, err := c.link(ifName)
	if err != nil {
		return err
	}
	err = c.Handle.LinkSetUp(link)
	if err != nil {
		return fmt.Errorf("link set up %s: %w", ifName, err)
	}
	return nil
}

func (c *NetlinkCommander) RefreshListeners(ctx context.Context) error {
	return refresh(ctx, c.Runner, c.RefreshCommand)
}
