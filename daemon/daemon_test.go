package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/control"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/goal/goaltest"
	"github.com/nyiyui/linkd/metrics"
	"github.com/nyiyui/linkd/nlevent"
	"github.com/nyiyui/linkd/probe/probetest"
	"github.com/nyiyui/linkd/reconcile"
	"github.com/nyiyui/linkd/shm"
)

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context) error { return nil }

type harness struct {
	d       *Daemon
	clock   *clock.Mock
	prober  *probetest.Fake
	table   *shm.Table
	events  chan nlevent.Event
	control chan control.Request
	results chan reconcile.Result
	path    string
}

func writeTable(t *testing.T, path string, recs ...binding.Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := binding.Encode(f, &binding.Snapshot{Records: recs}, binding.NativeLayout()); err != nil {
		t.Fatal(err)
	}
}

func newHarness(t *testing.T, recs ...binding.Record) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewMock(),
		prober:  probetest.New(),
		events:  make(chan nlevent.Event),
		control: make(chan control.Request),
		results: make(chan reconcile.Result, 16),
		path:    filepath.Join(t.TempDir(), "ifbind.conf"),
	}
	writeTable(t, h.path, recs...)
	l := binding.NativeLayout()
	table, err := shm.NewTable(shm.NewMemory(l), l, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.table = table
	store := binding.NewStore(h.path, binding.DefaultLoadOptions())
	if _, err := store.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := table.Init(store.Current().Len()); err != nil {
		t.Fatal(err)
	}
	r := &reconcile.Reconciler{
		Store:     store,
		Prober:    h.prober,
		Table:     table,
		Notifier:  nopNotifier{},
		Commander: new(goaltest.Recorder),
		Apply: goal.ApplyOptions{
			Wait: func(ctx context.Context, d time.Duration) error { return nil },
		},
	}
	h.d = New(Config{
		Store:      store,
		Reconciler: r,
		Table:      table,
		Events:     h.events,
		Control:    h.control,
		Clock:      h.clock,
		Metrics:    metrics.New(),
	})
	h.d.Observe = func(res reconcile.Result) { h.results <- res }
	return h
}

func (h *harness) start(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()
	h.result(t) // initial sweep
	return cancel, done
}

func (h *harness) result(t *testing.T) reconcile.Result {
	t.Helper()
	select {
	case res := <-h.results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pass")
		return reconcile.Result{}
	}
}

func (h *harness) send(t *testing.T, cmd control.Command) string {
	t.Helper()
	reply := make(chan string, 1)
	h.control <- control.Request{Command: cmd, Reply: reply}
	return <-reply
}

func rec(priority uint8, virtualIf, physicalIf string) binding.Record {
	return binding.Record{Priority: priority, VirtualIf: virtualIf, PhysicalIf: physicalIf}
}

func TestEventTriggersPass(t *testing.T) {
	h := newHarness(t, rec(0, "ipsec0", "eth0"))
	h.prober.Set("eth0", false, 1500)
	cancel, done := h.start(t)
	defer cancel()

	h.prober.Set("eth0", true, 1500, "203.0.113.5/24")
	h.events <- nlevent.Event{Kind: nlevent.AddressChanged, Name: "eth0"}
	res := h.result(t)
	if res.Trigger != "eth0" || len(res.Published()) != 1 {
		t.Fatalf("result %+v", res)
	}
	link, ok, err := h.table.Read(0)
	if err != nil || !ok || !link.Up {
		t.Fatalf("published %v ok=%v err=%v", link, ok, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestExitCommand(t *testing.T) {
	h := newHarness(t, rec(0, "ipsec0", "eth0"))
	h.prober.Set("eth0", true, 1500)
	_, done := h.start(t)
	if reply := h.send(t, control.Command{Type: control.TypeExit}); reply != control.ReplyOK {
		t.Fatalf("reply %q", reply)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}
}

func TestIntervalCommand(t *testing.T) {
	h := newHarness(t, rec(0, "ipsec0", "eth0"))
	h.prober.Set("eth0", true, 1500)
	cancel, _ := h.start(t)
	defer cancel()

	if reply := h.send(t, control.Command{Type: control.TypeInterval, Payload: 0}); !strings.HasPrefix(reply, "Invalid interval") {
		t.Fatalf("reply %q", reply)
	}
	if reply := h.send(t, control.Command{Type: control.TypeInterval, Payload: 5}); reply != control.ReplyOK {
		t.Fatalf("reply %q", reply)
	}
	status := h.send(t, control.Command{Type: control.TypeStatus})
	if !strings.HasPrefix(status, "interval 5s, 1 bindings") || !strings.Contains(status, "ipsec0") {
		t.Fatalf("status %q", status)
	}
	if reply := h.send(t, control.Command{Type: 42}); !strings.HasPrefix(reply, "Unknown command") {
		t.Fatalf("reply %q", reply)
	}
}

func TestTickReloads(t *testing.T) {
	h := newHarness(t, rec(0, "ipsec0", "eth0"), rec(1, "ipsec1", "eth1"))
	h.prober.Set("eth0", true, 1500)
	h.prober.Set("eth1", true, 1500)
	cancel, _ := h.start(t)
	defer cancel()

	writeTable(t, h.path, rec(0, "ipsec0", "eth0"))
	h.clock.Add(DefaultSweepInterval)
	res := h.result(t)
	if res.Trigger != "reload" {
		t.Fatalf("trigger %q", res.Trigger)
	}
	count, err := h.table.Count()
	if err != nil || count != 1 {
		t.Fatalf("count %d, %v", count, err)
	}
}

func TestBadReloadKeepsSnapshot(t *testing.T) {
	h := newHarness(t, rec(0, "ipsec0", "eth0"))
	h.prober.Set("eth0", true, 1500)
	cancel, _ := h.start(t)
	defer cancel()

	if err := os.WriteFile(h.path, []byte("nope, not a binding table at all........"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.d.RequestReload()
	res := h.result(t)
	if res.Trigger != "sweep" || len(res.Passes) != 1 {
		t.Fatalf("result %+v", res)
	}
}

func TestEventsClosed(t *testing.T) {
	h := newHarness(t, rec(0, "ipsec0", "eth0"))
	h.prober.Set("eth0", true, 1500)
	_, done := h.start(t)
	close(h.events)
	if err := <-done; err != ErrEventsClosed {
		t.Fatalf("err = %v", err)
	}
}
