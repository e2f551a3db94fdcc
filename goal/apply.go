package goal

import (
	"context"
	"net/netip"
	"time"

	"github.com/nyiyui/linkd/retry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Commander issues the OS-level changes Apply needs. Each call must be idempotent.
type Commander interface {
	SetAddress(ctx context.Context, ifName string, addr netip.Prefix) error
	AddIPv6Address(ctx context.Context, ifName string, addr netip.Prefix) error
	SetMTU(ctx context.Context, ifName string, mtu uint32) error
	SetLinkDown(ctx context.Context, ifName string) error
	SetLinkUp(ctx context.Context, ifName string) error
	RefreshListeners(ctx context.Context) error
}

type Step string

const (
	StepSetAddress     Step = "set-address"
	StepAddIPv6Address Step = "set-ipv6-address"
	StepSetMTU         Step = "set-mtu"
	StepLinkDown       Step = "link-down"
	StepLinkUp         Step = "link-up"
	StepRefresh        Step = "refresh-listeners"
)

type StepResult struct {
	Step    Step
	Skipped bool
	Err     error
}

// Report is the outcome of one Apply.
type Report struct {
	VirtualIf string
	Steps     []StepResult
}

// Err combines the errors of every failed step.
func (r Report) Err() error {
	var err error
	for _, s := range r.Steps {
		err = multierr.Append(err, s.Err)
	}
	return err
}

// Ran returns the steps that were attempted, in order.
func (r Report) Ran() []Step {
	var steps []Step
	for _, s := range r.Steps {
		if !s.Skipped {
			steps = append(steps, s.Step)
		}
	}
	return steps
}

// Failed returns the steps that were attempted and failed.
func (r Report) Failed() []Step {
	var steps []Step
	for _, s := range r.Steps {
		if s.Err != nil {
			steps = append(steps, s.Step)
		}
	}
	return steps
}

type ApplyOptions struct {
	// BounceDelay is how long the interface stays down while bouncing it.
	BounceDelay time.Duration
	// Wait is used for BounceDelay. nil means the wall clock.
	Wait retry.WaitFunc
}

func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{BounceDelay: 100 * time.Millisecond}
}

// Apply makes virtualIf mirror link. Every step is attempted independently, except that a
// failure to bring the interface down skips bringing it up and refreshing listeners.
// Failures are logged and reported, never returned early.
func Apply(ctx context.Context, cmd Commander, virtualIf string, link Link, opts ApplyOptions) Report {
	// Steps:
	// - set IPv4 address/mask (if any)
	// - add IPv6 address as /128 (if any)
	// - set MTU
	// - bounce interface, then refresh IPsec listeners

	r := Report{VirtualIf: virtualIf}
	run := func(step Step, f func() error) error {
		err := f()
		if err != nil {
			zap.S().Errorf("%s: %s failed: %s", virtualIf, step, err)
		} else {
			zap.S().Debugf("%s: %s done.", virtualIf, step)
		}
		r.Steps = append(r.Steps, StepResult{Step: step, Err: err})
		return err
	}
	skip := func(step Step) {
		zap.S().Debugf("%s: %s skipped.", virtualIf, step)
		r.Steps = append(r.Steps, StepResult{Step: step, Skipped: true})
	}

	// === set IPv4 address ===
	if link.IPv4.IsValid() {
		run(StepSetAddress, func() error { return cmd.SetAddress(ctx, virtualIf, link.IPv4) })
	} else {
		skip(StepSetAddress)
	}

	// === add IPv6 address ===
	if link.IPv6.IsValid() {
		host := netip.PrefixFrom(link.IPv6.Addr(), 128)
		run(StepAddIPv6Address, func() error { return cmd.AddIPv6Address(ctx, virtualIf, host) })
	} else {
		skip(StepAddIPv6Address)
	}

	// === set MTU ===
	run(StepSetMTU, func() error { return cmd.SetMTU(ctx, virtualIf, link.MTU) })

	// === bounce ===
	err := run(StepLinkDown, func() error { return cmd.SetLinkDown(ctx, virtualIf) })
	if err != nil {
		skip(StepLinkUp)
		skip(StepRefresh)
		return r
	}
	wait := opts.Wait
	if wait == nil {
		wait = retry.DefaultWait
	}
	if opts.BounceDelay > 0 {
		if err := wait(ctx, opts.BounceDelay); err != nil {
			zap.S().Warnf("%s: bounce wait interrupted: %s", virtualIf, err)
		}
	}
	run(StepLinkUp, func() error { return cmd.SetLinkUp(ctx, virtualIf) })
	run(StepRefresh, func() error { return cmd.RefreshListeners(ctx) })
	return r
}
