package status

import (
	"encoding/json"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/history"
	"github.com/nyiyui/linkd/metrics"
	"github.com/nyiyui/linkd/shm"
)

var addrCmp = cmp.Options{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
}

func newServer(t *testing.T) (*Server, *shm.Table, *history.Journal) {
	t.Helper()
	l := binding.Layout{WordSize: 8}
	table, err := shm.NewTable(shm.NewMemory(l), l, nil)
	if err != nil {
		t.Fatal(err)
	}
	store := binding.NewStore("/tos/conf/vpn/ifbind.conf", binding.DefaultLoadOptions())
	store.Set(&binding.Snapshot{Records: []binding.Record{{VirtualIf: "ipsec0", PhysicalIf: "eth0"}}})
	j, err := history.Open(":memory:", time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return NewServer(table, store, j, metrics.New()), table, j
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestLinks(t *testing.T) {
	s, table, _ := newServer(t)
	table.Init(1)
	link := goal.Link{
		VirtualIf:  "ipsec0",
		PhysicalIf: "eth0",
		Up:         true,
		MTU:        1500,
		IPv4:       netip.MustParsePrefix("203.0.113.5/24"),
	}
	table.Write(0, link)

	rec := get(t, s, "/v1/links")
	if rec.Code != 200 {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp GetLinksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(GetLinksResponse{Count: 1, Links: []goal.Link{link}}, resp, addrCmp); diff != "" {
		t.Fatal(diff)
	}

	rec = get(t, s, "/v1/links/0")
	var got goal.Link
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(link, got, addrCmp); diff != "" {
		t.Fatal(diff)
	}
	if rec := get(t, s, "/v1/links/1"); rec.Code != 404 {
		t.Fatalf("unpublished slot: %d", rec.Code)
	}
	if rec := get(t, s, "/v1/links/4"); rec.Code != 400 {
		t.Fatalf("out of range slot: %d", rec.Code)
	}
}

func TestBindings(t *testing.T) {
	s, _, _ := newServer(t)
	rec := get(t, s, "/v1/bindings")
	var resp GetBindingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Path != "/tos/conf/vpn/ifbind.conf" || len(resp.Records) != 1 || resp.Records[0].VirtualIf != "ipsec0" {
		t.Fatalf("resp %+v", resp)
	}
}

func TestHistory(t *testing.T) {
	s, _, j := newServer(t)
	j.Record(history.Entry{Priority: 0, Cause: history.CauseEvent, Link: goal.Link{VirtualIf: "ipsec0"}})
	j.Record(history.Entry{Priority: 1, Cause: history.CauseSweep, Link: goal.Link{VirtualIf: "ipsec1", Priority: 1}})

	rec := get(t, s, "/v1/history?priority=1")
	var entries []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Link.VirtualIf != "ipsec1" {
		t.Fatalf("entries %+v", entries)
	}
	if rec := get(t, s, "/v1/history?priority=x"); rec.Code != 400 {
		t.Fatalf("bad priority: %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	s, _, _ := newServer(t)
	rec := get(t, s, "/metrics")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "linkd_") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
