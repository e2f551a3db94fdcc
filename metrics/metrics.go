// Package metrics exposes daemon counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pass outcomes.
const (
	OutcomePublished = "published"
	OutcomeUnchanged = "unchanged"
	OutcomeAborted   = "aborted"
)

// Registry holds all linkd metrics.
type Registry struct {
	reg *prometheus.Registry

	Passes          *prometheus.CounterVec
	NotifyFailures  prometheus.Counter
	ApplyFailures   *prometheus.CounterVec
	ConfigReload    *prometheus.CounterVec
	NetlinkEvents   *prometheus.CounterVec
	NetlinkSkipped  prometheus.Counter
	Sweeps          prometheus.Counter
	LinkUp          *prometheus.GaugeVec
	LinkMTU         *prometheus.GaugeVec
	ConfiguredLinks prometheus.Gauge
}

// New creates a Registry backed by its own prometheus registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	f := promauto.With(r.reg)

	r.Passes = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_passes_total",
		Help: "Reconciliation passes by priority and outcome",
	}, []string{"priority", "outcome"})
	r.NotifyFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "linkd_notify_failures_total",
		Help: "Peer notifications that exhausted their retries",
	})
	r.ApplyFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_apply_failures_total",
		Help: "Failed apply steps by step",
	}, []string{"step"})
	r.ConfigReload = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_config_reload_total",
		Help: "Binding table reloads by status",
	}, []string{"status"})
	r.NetlinkEvents = f.NewCounterVec(prometheus.CounterOpts{
		Name: "linkd_netlink_events_total",
		Help: "Netlink events received by kind",
	}, []string{"kind"})
	r.NetlinkSkipped = f.NewCounter(prometheus.CounterOpts{
		Name: "linkd_netlink_skipped_total",
		Help: "Malformed netlink messages skipped",
	})
	r.Sweeps = f.NewCounter(prometheus.CounterOpts{
		Name: "linkd_sweeps_total",
		Help: "Full sweeps over every binding",
	})
	r.LinkUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkd_link_up",
		Help: "Published link state by priority",
	}, []string{"priority", "virtual", "physical"})
	r.LinkMTU = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkd_link_mtu",
		Help: "Published MTU by priority",
	}, []string{"priority", "virtual", "physical"})
	r.ConfiguredLinks = f.NewGauge(prometheus.GaugeOpts{
		Name: "linkd_configured_links",
		Help: "Number of records in the binding table",
	})
	return r
}

func (r *Registry) RecordPass(priority uint8, outcome string) {
	r.Passes.WithLabelValues(strconv.Itoa(int(priority)), outcome).Inc()
}

func (r *Registry) RecordLink(priority uint8, virtualIf, physicalIf string, up bool, mtu uint32) {
	p := strconv.Itoa(int(priority))
	upValue := 0.0
	if up {
		upValue = 1
	}
	r.LinkUp.WithLabelValues(p, virtualIf, physicalIf).Set(upValue)
	r.LinkMTU.WithLabelValues(p, virtualIf, physicalIf).Set(float64(mtu))
}

func (r *Registry) RecordReload(err error) {
	r.ConfigReload.WithLabelValues(statusString(err)).Inc()
}

func statusString(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, e.g. for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
