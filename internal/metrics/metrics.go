// Package metrics holds the process Prometheus collectors. They live on a
// private registry so tests can build fresh ones and serve can expose them
// without the default Go runtime noise unless asked.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "iptvstrm"

// Metrics is the set of collectors one process records into.
type Metrics struct {
	Registry *prometheus.Registry

	SyncRuns        *prometheus.CounterVec   // kind, status
	SyncDuration    *prometheus.HistogramVec // kind
	ItemsChanged    *prometheus.CounterVec   // kind, action (added, updated, deleted, backfilled)
	FilesWritten    prometheus.Counter
	FilesRemoved    prometheus.Counter
	GatewayRequests *prometheus.CounterVec   // action, outcome
	GatewayLatency  *prometheus.HistogramVec // action
	PlaylistEntries *prometheus.GaugeVec     // source
	JobsInFlight    prometheus.Gauge
}

// New registers a fresh collector set. withRuntime adds the Go and process
// collectors.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_runs_total",
			Help: "Reconciliation runs by kind and final status.",
		}, []string{"kind", "status"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_duration_seconds",
			Help:    "Wall time of reconciliation runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
		ItemsChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_changed_total",
			Help: "Catalog items touched by reconciliation.",
		}, []string{"kind", "action"}),
		FilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_written_total",
			Help: "Pointer and metadata files written.",
		}),
		FilesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_removed_total",
			Help: "Files and directories removed.",
		}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gateway_requests_total",
			Help: "Provider API calls by action and outcome.",
		}, []string{"action", "outcome"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "gateway_request_seconds",
			Help:    "Provider API call latency including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		PlaylistEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "playlist_entries",
			Help: "Entries cached from the last parse of each playlist source.",
		}, []string{"source"}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_in_flight",
			Help: "Background jobs queued or running.",
		}),
	}
	reg.MustRegister(m.SyncRuns, m.SyncDuration, m.ItemsChanged, m.FilesWritten, m.FilesRemoved,
		m.GatewayRequests, m.GatewayLatency, m.PlaylistEntries, m.JobsInFlight)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Nop is a collector set nobody scrapes; used when a component is built
// without explicit metrics.
var Nop = New(false)

// ObserveGateway records one provider call.
func (m *Metrics) ObserveGateway(action string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayRequests.WithLabelValues(action, outcome).Inc()
	m.GatewayLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// ObserveRun records the end of a reconciliation run.
func (m *Metrics) ObserveRun(kind, status string, start time.Time) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(kind, status).Inc()
	m.SyncDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// AddItems adds n to the kind/action counter when n > 0.
func (m *Metrics) AddItems(kind, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsChanged.WithLabelValues(kind, action).Add(float64(n))
}
