// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ScansTotal        prometheus.Counter
	ScanDuration      prometheus.Histogram
	RecordsEvaluated  prometheus.Counter
	RecordsSkipped    prometheus.Counter
	MatchesTotal      *prometheus.CounterVec
	ViolationsTotal   *prometheus.CounterVec
	Reconfirmed       prometheus.Counter
	PartitionFailures prometheus.Counter
	ReviewTransitions *prometheus.CounterVec
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "complyscan_scans_total",
			Help: "Total number of scans executed",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "complyscan_scan_duration_seconds",
			Help:    "Wall-clock duration of scans",
			Buckets: prometheus.DefBuckets,
		}),
		RecordsEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Name: "complyscan_records_evaluated_total",
			Help: "Total records evaluated across all scans",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "complyscan_records_skipped_total",
			Help: "Rows dropped by the record adapter",
		}),
		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "complyscan_matches_total",
			Help: "Raw evaluator matches by rule class",
		}, []string{"class"}),
		ViolationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "complyscan_violations_total",
			Help: "Violations materialized by severity",
		}, []string{"severity"}),
		Reconfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "complyscan_violations_reconfirmed_total",
			Help: "Repeat matches on already-open violations",
		}),
		PartitionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "complyscan_partition_failures_total",
			Help: "Scan partitions that failed and were excluded",
		}),
		ReviewTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "complyscan_review_transitions_total",
			Help: "Review workflow transitions by decision",
		}, []string{"decision"}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for tests and
// library embedding without instrumentation.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
