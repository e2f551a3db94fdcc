//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/control"
	"github.com/nyiyui/linkd/daemon"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/history"
	"github.com/nyiyui/linkd/metrics"
	"github.com/nyiyui/linkd/nlevent"
	"github.com/nyiyui/linkd/notify"
	"github.com/nyiyui/linkd/probe"
	"github.com/nyiyui/linkd/reconcile"
	"github.com/nyiyui/linkd/shm"
	"github.com/nyiyui/linkd/status"
	"github.com/nyiyui/linkd/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string
	var bindingPath string
	var controlSocket string
	var metricsAddr string
	var sweepInterval time.Duration
	flag.StringVar(&configPath, "config", "", "config file path (optional)")
	flag.StringVar(&bindingPath, "binding", "", "binding table path (overrides config)")
	flag.StringVar(&controlSocket, "control", "", "control socket path (overrides config)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "status/metrics bind address (overrides config)")
	flag.DurationVar(&sweepInterval, "sweep", 0, "sweep interval (overrides config)")
	flag.Parse()
	util.SetupLog()
	defer zap.S().Sync()

	c, err := loadConfig(configPath)
	if err != nil {
		zap.S().Fatalf("loading config failed: %s", err)
	}
	if bindingPath != "" {
		c.BindingPath = bindingPath
	}
	if controlSocket != "" {
		c.ControlSocket = controlSocket
	}
	if metricsAddr != "" {
		c.MetricsAddr = metricsAddr
	}
	if sweepInterval != 0 {
		c.SweepInterval = util.Duration(sweepInterval)
	}
	err = c.validate()
	if err != nil {
		zap.S().Fatalf("invalid config: %s", err)
	}
	err = run(c)
	if err != nil {
		zap.S().Fatalf("%s", err)
	}
	zap.S().Info("exiting.")
}

func openTable(c Config, layout binding.Layout) (*shm.Table, func() error, error) {
	lock, err := shm.OpenFileLock(c.Shm.LockPath)
	if err != nil {
		return nil, nil, err
	}
	var seg shm.Segment
	remove := func() error { return nil }
	switch c.Shm.Backend {
	case "sysv":
		sysv, err := shm.OpenSysV(c.Shm.Key, layout)
		if err != nil {
			lock.Close()
			return nil, nil, err
		}
		if c.Shm.RemoveOnExit {
			remove = sysv.Remove
		}
		seg = sysv
	case "file":
		seg, err = shm.OpenFile(c.Shm.Path, layout)
		if err != nil {
			lock.Close()
			return nil, nil, err
		}
	}
	table, err := shm.NewTable(seg, layout, lock)
	if err != nil {
		return nil, nil, multierr.Append(err, multierr.Append(seg.Close(), lock.Close()))
	}
	return table, remove, nil
}

func newTransport(c NotifyConfig, table *shm.Table) (notify.Transport, error) {
	if c.Method == "datagram" {
		return notify.Datagram{Path: c.Socket}, nil
	}
	sig, err := notify.ParseSignal(c.Signal)
	if err != nil {
		return nil, err
	}
	return notify.Signal{
		PIDFile: c.PIDFile,
		Signal:  sig,
		Fallback: func() (int32, error) {
			for p := uint8(0); p < binding.MaxBound; p++ {
				_, pid, err := table.Peer(p)
				if err != nil {
					return 0, err
				}
				if pid > 0 {
					return pid, nil
				}
			}
			return 0, errors.New("no peer pid published")
		},
	}, nil
}

func newCommander(c ApplyConfig) (goal.Commander, error) {
	if c.Backend == "exec" {
		return &goal.ExecCommander{Runner: goal.ExecRunner{}, RefreshCommand: c.RefreshCommand}, nil
	}
	handle, err := goal.NewHandle()
	if err != nil {
		return nil, err
	}
	return &goal.NetlinkCommander{Handle: handle, Runner: goal.ExecRunner{}, RefreshCommand: c.RefreshCommand}, nil
}

func run(c Config) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	layout := binding.Layout{WordSize: c.WordSize}

	// === binding table ===
	store := binding.NewStore(c.BindingPath, binding.LoadOptions{Layout: layout, OpenRetry: binding.DefaultOpenRetry})
	_, err = store.Reload(ctx)
	if err != nil {
		zap.S().Fatalf("loading binding table failed: %s", err)
	}

	// === shared table ===
	table, removeSegment, err := openTable(c, layout)
	if err != nil {
		zap.S().Fatalf("opening shared memory failed: %s", err)
	}
	defer func() {
		err = multierr.Append(err, multierr.Append(table.Close(), removeSegment()))
	}()
	err = table.Init(store.Current().Len())
	if err != nil {
		return fmt.Errorf("initialising shared memory: %w", err)
	}

	// === netlink ===
	source, err := nlevent.Open(nlevent.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("opening netlink subscription: %w", err)
	}
	defer source.Close()
	prober, err := probe.NewNetlink()
	if err != nil {
		return fmt.Errorf("opening netlink handle: %w", err)
	}
	defer prober.Close()
	commander, err := newCommander(c.Apply)
	if err != nil {
		return fmt.Errorf("creating %s commander: %w", c.Apply.Backend, err)
	}

	// === observability ===
	reg := metrics.New()
	source.OnSkipped = func(n int) { reg.NetlinkSkipped.Add(float64(n)) }
	journal, err := history.Open(c.History.Path, time.Duration(c.History.Retention), nil)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer journal.Close()

	// === notify ===
	transport, err := newTransport(c.Notify, table)
	if err != nil {
		return err
	}
	async := notify.NewAsync(notify.New(transport))
	async.OnResult = func(err error) {
		if err != nil {
			reg.NotifyFailures.Inc()
		}
	}

	// === control ===
	ctl, err := control.Listen(c.ControlSocket)
	if err != nil {
		return err
	}
	defer ctl.Close()

	applyOpts := goal.DefaultApplyOptions()
	applyOpts.BounceDelay = time.Duration(c.Apply.BounceDelay)
	events := make(chan nlevent.Event, 64)
	d := daemon.New(daemon.Config{
		Store: store,
		Reconciler: &reconcile.Reconciler{
			Store:     store,
			Prober:    prober,
			Table:     table,
			Notifier:  daemon.AsyncNotifier{Async: async},
			Commander: commander,
			Apply:     applyOpts,
			Journal:   journal,
			Metrics:   reg,
		},
		Table:         table,
		Events:        events,
		Control:       ctl.Requests(),
		SweepInterval: time.Duration(c.SweepInterval),
		Metrics:       reg,
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, ctx := errgroup.WithContext(ctx)
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g.Go(func() error {
		defer stop()
		return d.Run(ctx)
	})
	g.Go(func() error { return source.Run(ctx, events) })
	g.Go(func() error { return ctl.Serve(ctx) })
	g.Go(func() error { return async.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				zap.S().Info("SIGHUP: reloading.")
				d.RequestReload()
			}
		}
	})
	if c.MetricsAddr != "" {
		srv := &http.Server{Addr: c.MetricsAddr, Handler: status.NewServer(table, store, journal, reg)}
		g.Go(func() error {
			zap.S().Infof("status server listening on %s.", c.MetricsAddr)
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	err = util.Notify("READY=1")
	if err != nil {
		zap.S().Infof("notify: %s", err)
	}
	return g.Wait()
}
