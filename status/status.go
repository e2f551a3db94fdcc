// Package status serves the published links, the binding table and the change history
// over HTTP.
package status

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/goal"
	"github.com/nyiyui/linkd/history"
	"github.com/nyiyui/linkd/metrics"
	"go.uber.org/zap"
)

// Table is the read side of the shared table.
type Table interface {
	Read(priority uint8) (goal.Link, bool, error)
	Links() ([]goal.Link, error)
	Count() (int, error)
}

type Server struct {
	mux     *http.ServeMux
	table   Table
	store   *binding.Store
	journal *history.Journal
	metrics *metrics.Registry
}

// NewServer serves table and store. journal and metrics may be nil.
func NewServer(table Table, store *binding.Store, journal *history.Journal, m *metrics.Registry) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		table:   table,
		store:   store,
		journal: journal,
		metrics: m,
	}
	s.setup()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) setup() {
	s.mux.HandleFunc("GET /v1/links", s.getLinks)
	s.mux.HandleFunc("GET /v1/links/{priority}", s.getLink)
	s.mux.HandleFunc("GET /v1/bindings", s.getBindings)
	s.mux.HandleFunc("GET /v1/history", s.getHistory)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	w.Write(data)
}

type GetLinksResponse struct {
	Count int
	Links []goal.Link
}

func (s *Server) getLinks(w http.ResponseWriter, r *http.Request) {
	count, err := s.table.Count()
	if err != nil {
		zap.S().Errorf("status: reading count: %s", err)
		http.Error(w, "reading table failed", 500)
		return
	}
	links, err := s.table.Links()
	if err != nil {
		zap.S().Errorf("status: reading links: %s", err)
		http.Error(w, "reading table failed", 500)
		return
	}
	if links == nil {
		links = []goal.Link{}
	}
	writeJSON(w, GetLinksResponse{Count: count, Links: links})
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	priority, err := strconv.ParseUint(r.PathValue("priority"), 10, 8)
	if err != nil || priority >= binding.MaxBound {
		http.Error(w, "priority must be between 0 and 3", 400)
		return
	}
	link, ok, err := s.table.Read(uint8(priority))
	if err != nil {
		zap.S().Errorf("status: reading priority %d: %s", priority, err)
		http.Error(w, "reading table failed", 500)
		return
	}
	if !ok {
		http.Error(w, "link not published", 404)
		return
	}
	writeJSON(w, link)
}

type GetBindingsResponse struct {
	Path     string
	RecordID int32
	Records  []binding.Record
}

func (s *Server) getBindings(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	if snap == nil {
		http.Error(w, "binding table not loaded", 503)
		return
	}
	records := snap.Records
	if records == nil {
		records = []binding.Record{}
	}
	writeJSON(w, GetBindingsResponse{Path: s.store.Path(), RecordID: snap.Header.RecordID, Records: records})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "history disabled", 404)
		return
	}
	priority := -1
	if v := r.URL.Query().Get("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p >= binding.MaxBound {
			http.Error(w, "priority must be between 0 and 3", 400)
			return
		}
		priority = p
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 0 {
			http.Error(w, "bad limit", 400)
			return
		}
		limit = l
	}
	entries, err := s.journal.List(priority, limit)
	if err != nil {
		zap.S().Errorf("status: listing history: %s", err)
		http.Error(w, "listing history failed", 500)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, entries)
}
