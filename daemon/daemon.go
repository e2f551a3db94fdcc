// Package daemon runs the event loop: one goroutine owns the binding store, the
// reconciler and the shared table, and serves netlink events, control commands, the
// periodic sweep and reload results one at a time.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/control"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/history"
	"github.com/nyiyui/linkd/metrics"
	"github.com/nyiyui/linkd/nlevent"
	"github.com/nyiyui/linkd/notify"
	"github.com/nyiyui/linkd/reconcile"
	"go.uber.org/zap"
)

// DefaultSweepInterval is the period of the reload-and-sweep timer.
const DefaultSweepInterval = 20 * time.Second

var ErrEventsClosed = errors.New("netlink event source stopped")

// Lister lists the published links.
type Lister interface {
	Links() ([]goal.Link, error)
}

type Config struct {
	Store      *binding.Store
	Reconciler *reconcile.Reconciler
	Table      Lister
	Events     <-chan nlevent.Event
	// Control may be nil.
	Control       <-chan control.Request
	Clock         clock.Clock
	SweepInterval time.Duration
	Metrics       *metrics.Registry
}

type reloadResult struct {
	snap *binding.Snapshot
	err  error
}

type Daemon struct {
	store      *binding.Store
	reconciler *reconcile.Reconciler
	table      Lister
	events     <-chan nlevent.Event
	control    <-chan control.Request
	clock      clock.Clock
	metrics    *metrics.Registry

	interval      time.Duration
	reloading     bool
	reloadPending bool
	reloads       chan reloadResult
	reloadReqs    chan struct{}

	// Observe, if set, is called with the result of every pass. It runs on the loop.
	Observe func(reconcile.Result)
}

func New(cfg Config) *Daemon {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Daemon{
		store:      cfg.Store,
		reconciler: cfg.Reconciler,
		table:      cfg.Table,
		events:     cfg.Events,
		control:    cfg.Control,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
		interval:   cfg.SweepInterval,
		reloads:    make(chan reloadResult, 1),
		reloadReqs: make(chan struct{}, 1),
	}
}

// RequestReload schedules a binding table reload followed by a sweep. Safe to call from
// any goroutine.
func (d *Daemon) RequestReload() {
	select {
	case d.reloadReqs <- struct{}{}:
	default:
	}
}

// Run sweeps once, then serves until ctx is done, an exit command is processed or the
// event source closes.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()

	d.observe(d.reconciler.Sweep(ctx, history.CauseSweep))
	zap.S().Infof("event loop running (sweep every %s).", d.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.events:
			if !ok {
				return ErrEventsClosed
			}
			d.handleEvent(ctx, ev)
		case req := <-d.control:
			reply, exit := d.handleCommand(req.Command, ticker)
			req.Reply <- reply
			if exit {
				zap.S().Info("exit requested.")
				return nil
			}
		case <-ticker.C:
			d.startReload(ctx)
		case <-d.reloadReqs:
			d.startReload(ctx)
		case res := <-d.reloads:
			d.reloading = false
			d.finishReload(ctx, res)
			if d.reloadPending {
				d.reloadPending = false
				d.startReload(ctx)
			}
		}
	}
}

func (d *Daemon) observe(res reconcile.Result) {
	if d.Observe != nil {
		d.Observe(res)
	}
}

func (d *Daemon) handleEvent(ctx context.Context, ev nlevent.Event) {
	if d.metrics != nil {
		d.metrics.NetlinkEvents.WithLabelValues(ev.Kind.String()).Inc()
	}
	zap.S().Debugf("event: %s", ev)
	if ev.Kind == nlevent.Overrun {
		d.observe(d.reconciler.Sweep(ctx, history.CauseSweep))
		return
	}
	d.observe(d.reconciler.SyncPhysical(ctx, ev.Name))
}

// startReload loads the binding table off the loop; open retries can take a while.
func (d *Daemon) startReload(ctx context.Context) {
	if d.reloading {
		d.reloadPending = true
		return
	}
	d.reloading = true
	go func() {
		snap, err := d.store.Load(ctx)
		d.reloads <- reloadResult{snap: snap, err: err}
	}()
}

func (d *Daemon) finishReload(ctx context.Context, res reloadResult) {
	if ctx.Err() != nil {
		return
	}
	if d.metrics != nil {
		d.metrics.RecordReload(res.err)
	}
	cause := history.CauseSweep
	if res.err != nil {
		zap.S().Errorf("reloading binding table (keeping previous): %s", res.err)
	} else {
		old := d.store.Set(res.snap)
		if !old.Equal(res.snap) {
			zap.S().Infof("binding table changed: %d → %d records.", old.Len(), res.snap.Len())
			cause = history.CauseReload
		}
	}
	d.observe(d.reconciler.Sweep(ctx, cause))
}

type resetter interface {
	Reset(d time.Duration)
}

func (d *Daemon) handleCommand(cmd control.Command, ticker resetter) (reply string, exit bool) {
	switch cmd.Type {
	case control.TypeInterval:
		if cmd.Payload < 1 {
			return fmt.Sprintf("Invalid interval: %d", cmd.Payload), false
		}
		d.interval = time.Duration(cmd.Payload) * time.Second
		ticker.Reset(d.interval)
		zap.S().Infof("sweep interval set to %s.", d.interval)
		return control.ReplyOK, false
	case control.TypeExit:
		return control.ReplyOK, true
	case control.TypeStatus:
		return d.status(), false
	default:
		zap.S().Warnf("unknown command type %d", cmd.Type)
		return fmt.Sprintf("Unknown command type: %d", cmd.Type), false
	}
}

func (d *Daemon) status() string {
	links, err := d.table.Links()
	if err != nil {
		return fmt.Sprintf("Reading table failed: %s", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "interval %s, %d bindings", d.interval, d.store.Current().Len())
	for _, l := range links {
		b.WriteString("\n")
		b.WriteString(l.String())
	}
	return b.String()
}

// Interval returns the current sweep interval. Only call it from Observe.
func (d *Daemon) Interval() time.Duration {
	return d.interval
}

// AsyncNotifier makes a reconciler's notification a request to a notify.Async, so
// notification retries never hold up the loop.
type AsyncNotifier struct {
	Async *notify.Async
}

func (a AsyncNotifier) Notify(ctx context.Context) error {
	a.Async.Request()
	return nil
}
