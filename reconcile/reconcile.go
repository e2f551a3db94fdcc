// Package reconcile keeps the shared link table in step with the physical interfaces
// named by the binding table.
//
// A pass probes one binding's physical interface, builds the Link it should publish and
// compares it with the published one. Only on a change is the slot rewritten, the peer
// notified and the virtual interface reconfigured, in that order.
package reconcile

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/google/go-cmp/cmp"
	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/history"
	"github.com/nyiyui/linkd/metrics"
	"github.com/nyiyui/linkd/probe"
	"github.com/nyiyui/linkd/shm"
	"go.uber.org/zap"
)

// Notifier tells the peer the table changed.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Table is the subset of *shm.Table a Reconciler uses.
type Table interface {
	Read(priority uint8) (goal.Link, bool, error)
	Write(priority uint8, link goal.Link) error
	Clear(priority uint8) error
	Count() (int, error)
	SetCount(count int) error
}

var _ Table = (*shm.Table)(nil)

type Reconciler struct {
	Store     *binding.Store
	Prober    probe.Prober
	Table     Table
	Notifier  Notifier
	Commander goal.Commander
	Apply     goal.ApplyOptions

	// Journal and Metrics are optional.
	Journal *history.Journal
	Metrics *metrics.Registry
}

type Outcome int

const (
	Unchanged Outcome = iota
	Published
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return metrics.OutcomeUnchanged
	case Published:
		return metrics.OutcomePublished
	case Aborted:
		return metrics.OutcomeAborted
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Pass is the outcome for one binding.
type Pass struct {
	Priority  uint8
	VirtualIf string
	Outcome   Outcome
	Link      goal.Link
	Changes   goal.LinkDiff
	// Err is why the pass aborted, or why publication failed.
	Err    error
	Report *goal.Report
}

type Result struct {
	Trigger string
	Passes  []Pass
}

// Published returns the priorities that were republished, in pass order.
func (r Result) Published() []uint8 {
	var ps []uint8
	for _, p := range r.Passes {
		if p.Outcome == Published {
			ps = append(ps, p.Priority)
		}
	}
	return ps
}

var linkCmp = cmp.Options{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
}

// SyncPhysical runs a pass for every binding on the physical interface name.
func (r *Reconciler) SyncPhysical(ctx context.Context, name string) Result {
	res := Result{Trigger: name}
	recs := r.Store.Current().ForPhysical(name)
	if len(recs) == 0 {
		zap.S().Debugf("%s: not bound, ignoring.", name)
		return res
	}
	for _, rec := range recs {
		res.Passes = append(res.Passes, r.pass(ctx, rec, false, history.CauseEvent, name))
	}
	return res
}

// Sweep runs a pass for every binding. If the published count differs from the binding
// table, the count is republished and every binding is published regardless of changes.
// Slots whose priority is no longer bound are cleared.
func (r *Reconciler) Sweep(ctx context.Context, cause string) Result {
	res := Result{Trigger: cause}
	snap := r.Store.Current()
	if r.Metrics != nil {
		r.Metrics.Sweeps.Inc()
		r.Metrics.ConfiguredLinks.Set(float64(snap.Len()))
	}

	// === count ===
	force := false
	count, err := r.Table.Count()
	if err != nil {
		zap.S().Warnf("sweep: reading published count: %s", err)
		force = true
	} else if count != snap.Len() {
		zap.S().Infof("sweep: configured links changed: %d → %d", count, snap.Len())
		force = true
	}
	if force {
		if err := r.Table.SetCount(snap.Len()); err != nil {
			zap.S().Errorf("sweep: publishing count: %s", err)
		}
	}

	// === stale slots ===
	for p := uint8(0); p < binding.MaxBound; p++ {
		if _, ok := snap.ByPriority(p); ok {
			continue
		}
		_, written, err := r.Table.Read(p)
		if err != nil || !written {
			continue
		}
		zap.S().Infof("sweep: priority %d no longer bound, clearing.", p)
		if err := r.Table.Clear(p); err != nil {
			zap.S().Errorf("sweep: clearing priority %d: %s", p, err)
		}
	}

	// === passes ===
	for _, rec := range snap.Records {
		res.Passes = append(res.Passes, r.pass(ctx, rec, force, cause, rec.PhysicalIf))
	}
	return res
}

// wanted returns the addresses rec pins, preferring the dedicated fields over the union.
func wanted(rec binding.Record) (v4, v6 netip.Addr) {
	v4, v6 = rec.ForcedIPv4, rec.ForcedIPv6
	switch rec.ForceIP.Family {
	case binding.FamilyV4:
		if !v4.IsValid() {
			v4 = rec.ForceIP.Addr
		}
	case binding.FamilyV6:
		if !v6.IsValid() {
			v6 = rec.ForceIP.Addr
		}
	}
	return v4, v6
}

// probe builds the Link rec should publish now.
func (r *Reconciler) probe(rec binding.Record) (goal.Link, error) {
	flags, err := r.Prober.LinkFlags(rec.PhysicalIf)
	if err != nil {
		return goal.Link{}, fmt.Errorf("link flags: %w", err)
	}
	v4, v6 := wanted(rec)
	ipv4, err := r.Prober.IPv4(rec.PhysicalIf, v4)
	if err != nil {
		return goal.Link{}, fmt.Errorf("ipv4: %w", err)
	}
	ipv6, err := r.Prober.IPv6(rec.PhysicalIf, v6)
	if err != nil {
		return goal.Link{}, fmt.Errorf("ipv6: %w", err)
	}
	return goal.Link{
		Priority:   rec.Priority,
		VirtualIf:  rec.VirtualIf,
		PhysicalIf: rec.PhysicalIf,
		Up:         flags.Up,
		UpV6:       flags.Up && ipv6.IsValid(),
		MTU:        flags.MTU,
		IPv4:       ipv4,
		IPv6:       ipv6,
		ForceIP:    rec.ForceIP,
	}, nil
}

func (r *Reconciler) pass(ctx context.Context, rec binding.Record, force bool, cause, trigger string) Pass {
	// States: probing → diffing → publishing (or skip).
	p := Pass{Priority: rec.Priority, VirtualIf: rec.VirtualIf}
	defer func() {
		if r.Metrics != nil {
			r.Metrics.RecordPass(p.Priority, p.Outcome.String())
		}
	}()

	// === probe ===
	link, err := r.probe(rec)
	if err != nil {
		zap.S().Errorf("%s (%s): aborting pass: %s", rec.VirtualIf, rec.PhysicalIf, err)
		p.Outcome = Aborted
		p.Err = err
		return p
	}
	p.Link = link

	// === diff ===
	old, ok, err := r.Table.Read(rec.Priority)
	switch {
	case err != nil:
		zap.S().Warnf("%s: reading published state: %s; treating as changed", rec.VirtualIf, err)
		p.Changes = goal.DiffLink(&goal.Link{}, &link)
	case !ok:
		zap.S().Infof("%s: first publication.", rec.VirtualIf)
		p.Changes = goal.DiffLink(&goal.Link{}, &link)
	default:
		p.Changes = goal.DiffLink(&old, &link)
		if !p.Changes.Changed() && !force {
			zap.S().Debugf("%s: %s unchanged, skipping.", rec.VirtualIf, rec.PhysicalIf)
			p.Outcome = Unchanged
			return p
		}
		zap.S().Infof("%s: %s changed (%s):\n%s", rec.VirtualIf, rec.PhysicalIf, p.Changes, cmp.Diff(old, link, linkCmp))
	}
	p.Outcome = Published

	// === publish ===
	err = r.Table.Write(rec.Priority, link)
	if err != nil {
		zap.S().Errorf("%s: publishing: %s", rec.VirtualIf, err)
		p.Err = err
	}

	// === notify ===
	err = r.Notifier.Notify(ctx)
	if err != nil {
		zap.S().Errorf("%s: %s", rec.VirtualIf, err)
		if r.Metrics != nil {
			r.Metrics.NotifyFailures.Inc()
		}
	}

	// === apply ===
	report := goal.Apply(ctx, r.Commander, rec.VirtualIf, link, r.Apply)
	p.Report = &report
	if r.Metrics != nil {
		for _, step := range report.Failed() {
			r.Metrics.ApplyFailures.WithLabelValues(string(step)).Inc()
		}
		r.Metrics.RecordLink(link.Priority, link.VirtualIf, link.PhysicalIf, link.Up, link.MTU)
	}

	// === journal ===
	if r.Journal != nil {
		err = r.Journal.Record(history.Entry{
			Priority: rec.Priority,
			Cause:    cause,
			Trigger:  trigger,
			Changes:  p.Changes.String(),
			Link:     link,
		})
		if err != nil {
			zap.S().Warnf("%s: recording history: %s", rec.VirtualIf, err)
		}
	}
	return p
}
