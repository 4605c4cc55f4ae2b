// Package metrics provides Prometheus metrics for resolution, projection,
// dedupe and venue matching runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the Prometheus collectors for all batch jobs. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	resolutionsTotal *prometheus.CounterVec
	projectionsTotal *prometheus.CounterVec
	lookupsTotal     *prometheus.CounterVec
	lookupDuration   *prometheus.HistogramVec
	mergesTotal      *prometheus.CounterVec
	duplicateGroups  prometheus.Gauge
	venueCandidates  *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
}

// New creates and registers the metrics on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) initMetrics() {
	m.resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeresolve_resolutions_total",
			Help: "Raw records resolved, by outcome and match method",
		},
		[]string{"outcome", "method"}, // outcome: matched, created, ambiguous, invalid, failed, skipped
	)

	m.projectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeresolve_projections_total",
			Help: "Golden records projected into the serving table, by action",
		},
		[]string{"action"}, // action: inserted, updated, converted, failed
	)

	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeresolve_enrichment_lookups_total",
			Help: "Enrichment collaborator lookups, by result",
		},
		[]string{"result"}, // result: hit, miss, error, open
	)

	m.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placeresolve_enrichment_lookup_duration_seconds",
			Help:    "Time taken by enrichment collaborator lookups",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"result"},
	)

	m.mergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeresolve_merges_total",
			Help: "Duplicate merges, by result",
		},
		[]string{"result"}, // result: merged, skipped, failed, planned
	)

	m.duplicateGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "placeresolve_duplicate_groups",
			Help: "Duplicate groups found by the last dedupe scan",
		},
	)

	m.venueCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeresolve_venue_candidates_total",
			Help: "Venue mentions processed, by result",
		},
		[]string{"result"}, // result: noise, inconclusive, HIGH, MEDIUM, LOW
	)

	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placeresolve_run_duration_seconds",
			Help:    "Wall time of batch job runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"kind"},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.resolutionsTotal.Describe(ch)
	m.projectionsTotal.Describe(ch)
	m.lookupsTotal.Describe(ch)
	m.lookupDuration.Describe(ch)
	m.mergesTotal.Describe(ch)
	m.duplicateGroups.Describe(ch)
	m.venueCandidates.Describe(ch)
	m.runDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.resolutionsTotal.Collect(ch)
	m.projectionsTotal.Collect(ch)
	m.lookupsTotal.Collect(ch)
	m.lookupDuration.Collect(ch)
	m.mergesTotal.Collect(ch)
	m.duplicateGroups.Collect(ch)
	m.venueCandidates.Collect(ch)
	m.runDuration.Collect(ch)
}

// RecordResolution records one resolver decision.
func (m *Metrics) RecordResolution(outcome, method string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(outcome, method).Inc()
}

// RecordProjection records one projector write.
func (m *Metrics) RecordProjection(action string) {
	if m == nil {
		return
	}
	m.projectionsTotal.WithLabelValues(action).Inc()
}

// RecordLookup records one enrichment lookup and its duration in seconds.
func (m *Metrics) RecordLookup(result string, seconds float64) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(result).Inc()
	m.lookupDuration.WithLabelValues(result).Observe(seconds)
}

// RecordMerge records one merge attempt.
func (m *Metrics) RecordMerge(result string) {
	if m == nil {
		return
	}
	m.mergesTotal.WithLabelValues(result).Inc()
}

// SetDuplicateGroups sets the group count from the latest scan.
func (m *Metrics) SetDuplicateGroups(n int) {
	if m == nil {
		return
	}
	m.duplicateGroups.Set(float64(n))
}

// RecordVenueCandidate records one processed venue mention.
func (m *Metrics) RecordVenueCandidate(result string) {
	if m == nil {
		return
	}
	m.venueCandidates.WithLabelValues(result).Inc()
}

// RecordRun records the duration of a finished run.
func (m *Metrics) RecordRun(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(kind).Observe(seconds)
}
