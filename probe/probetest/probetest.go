// Package probetest provides an in-memory probe.Prober.
package probetest

import (
	"fmt"
	"net/netip"

	"github.com/nyiyui/linkd/probe"
)

// Iface is the state of one fake interface. Addresses are in kernel order.
type Iface struct {
	Flags probe.Flags
	Addrs []netip.Prefix
}

// Fake serves interfaces from a map. Missing interfaces report probe.ErrDeviceGone.
type Fake struct {
	Ifaces map[string]*Iface
	// Calls counts LinkFlags calls per interface.
	Calls map[string]int
}

var _ probe.Prober = (*Fake)(nil)

func New() *Fake {
	return &Fake{Ifaces: map[string]*Iface{}, Calls: map[string]int{}}
}

// Set replaces the state of name.
func (f *Fake) Set(name string, up bool, mtu uint32, addrs ...string) {
	iface := &Iface{Flags: probe.Flags{Up: up, MTU: mtu}}
	for _, a := range addrs {
		iface.Addrs = append(iface.Addrs, netip.MustParsePrefix(a))
	}
	f.Ifaces[name] = iface
}

// Remove deletes name, as if the device disappeared.
func (f *Fake) Remove(name string) {
	delete(f.Ifaces, name)
}

func (f *Fake) get(name string) (*Iface, error) {
	iface, ok := f.Ifaces[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, probe.ErrDeviceGone)
	}
	return iface, nil
}

func (f *Fake) IPv4(name string, wanted netip.Addr) (netip.Prefix, error) {
	iface, err := f.get(name)
	if err != nil {
		return netip.Prefix{}, err
	}
	return probe.SelectIPv4(iface.Addrs, wanted), nil
}

func (f *Fake) IPv6(name string, wanted netip.Addr) (netip.Prefix, error) {
	iface, err := f.get(name)
	if err != nil {
		return netip.Prefix{}, err
	}
	return probe.SelectIPv6(iface.Addrs, wanted), nil
}

func (f *Fake) LinkFlags(name string) (probe.Flags, error) {
	f.Calls[name]++
	iface, err := f.get(name)
	if err != nil {
		return probe.Flags{}, err
	}
	return iface.Flags, nil
}
