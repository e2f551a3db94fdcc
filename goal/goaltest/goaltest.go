// Package goaltest provides a recording goal.Commander for tests.
package goaltest

import (
	"context"
	"fmt"
	"net/netip"
)

// Recorder records every call as a short string, e.g. "mtu ipsec0 1500".
// Fail maps a call (e.g. "down ipsec0") to the error that call returns.
// OnCall, if set, sees every call before it is recorded.
type Recorder struct {
	Calls  []string
	Fail   map[string]error
	OnCall func(call string)
}

func (r *Recorder) record(call string) error {
	if r.OnCall != nil {
		r.OnCall(call)
	}
	r.Calls = append(r.Calls, call)
	return r.Fail[call]
}

func (r *Recorder) SetAddress(ctx context.Context, ifName string, addr netip.Prefix) error {
	return r.record(fmt.Sprintf("addr %s %s", ifName, addr))
}

func (r *Recorder) AddIPv6Address(ctx context.Context, ifName string, addr netip.Prefix) error {
	return r.record(fmt.Sprintf("addr6 %s %s", ifName, addr))
}

func (r *Recorder) SetMTU(ctx context.Context, ifName string, mtu uint32) error {
	return r.record(fmt.Sprintf("mtu %s %d", ifName, mtu))
}

func (r *Recorder) SetLinkDown(ctx context.Context, ifName string) error {
	return r.record(fmt.Sprintf("down %s", ifName))
}

func (r *Recorder) SetLinkUp(ctx context.Context, ifName string) error {
	return r.record(fmt.Sprintf("up %s", ifName))
}

func (r *Recorder) RefreshListeners(ctx context.Context) error {
	return r.record("refresh")
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.Calls = nil
}
