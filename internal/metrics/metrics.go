// Package metrics provides Prometheus metrics for lexalign.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of one process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Index lifecycle
	OpenReaders    *prometheus.GaugeVec
	RetiredReaders *prometheus.GaugeVec
	CommitsTotal   *prometheus.CounterVec
	MergesTotal    *prometheus.CounterVec

	// Indexing
	IndexedEntitiesTotal *prometheus.CounterVec
	IndexFailuresTotal   prometheus.Counter

	// Search
	SearchesTotal   *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	ServerStartTime time.Time
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{
		registry:        reg,
		ServerStartTime: time.Now(),
	}

	m.OpenReaders = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lexalign_index_reader_usage",
			Help: "Outstanding acquisitions of the current reader per index cell",
		},
		[]string{"cell"},
	)
	m.RetiredReaders = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lexalign_index_retired_readers",
			Help: "Superseded readers still held by searches per index cell",
		},
		[]string{"cell"},
	)
	m.CommitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexalign_index_commits_total",
			Help: "Total number of index commits",
		},
		[]string{"cell"},
	)
	m.MergesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexalign_index_merges_total",
			Help: "Total number of segment merges",
		},
		[]string{"cell", "kind"},
	)

	m.IndexedEntitiesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexalign_indexed_entities_total",
			Help: "Total number of entities written to the index",
		},
		[]string{"granularity"},
	)
	m.IndexFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "lexalign_index_failures_total",
			Help: "Total number of source documents that failed to index",
		},
	)

	m.SearchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexalign_searches_total",
			Help: "Total number of searches",
		},
		[]string{"kind", "status"},
	)
	m.SearchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexalign_search_duration_seconds",
			Help:    "Duration of searches in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lexalign_uptime_seconds",
			Help: "Seconds since the metrics were created",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetReaders records the reader state of a cell.
func (m *Metrics) SetReaders(cell string, usage, retired int) {
	if m == nil {
		return
	}
	m.OpenReaders.WithLabelValues(cell).Set(float64(usage))
	m.RetiredReaders.WithLabelValues(cell).Set(float64(retired))
}

// RecordCommit counts a commit of a cell.
func (m *Metrics) RecordCommit(cell string) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(cell).Inc()
}

// RecordMerge counts a merge of a cell. kind is "full" or "try".
func (m *Metrics) RecordMerge(cell, kind string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(cell, kind).Inc()
}

// RecordIndexed counts n entities written at a granularity.
func (m *Metrics) RecordIndexed(granularity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IndexedEntitiesTotal.WithLabelValues(granularity).Add(float64(n))
}

// RecordIndexFailure counts a source document that could not be indexed.
func (m *Metrics) RecordIndexFailure() {
	if m == nil {
		return
	}
	m.IndexFailuresTotal.Inc()
}

// ObserveSearch records one search of the given kind.
func (m *Metrics) ObserveSearch(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SearchesTotal.WithLabelValues(kind, status).Inc()
	m.SearchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
