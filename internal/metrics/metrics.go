// Package metrics exposes the Prometheus counters and gauges the
// Fan-out Polling Engine and Bisection Coordinator update as they run.
// Registration happens once at package init via promauto, following
// the pattern used elsewhere in the stack for syncer-style services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IndexingStatusCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexing_statuses_requests_total",
		Help: "Total indexing_statuses calls per indexer, by success (ok=1) or failure (ok=0)",
	}, []string{"indexer", "ok"})

	ProofsOfIndexingCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pois_requests_total",
		Help: "Total proofs_of_indexing calls per indexer, by success (ok=1) or failure (ok=0)",
	}, []string{"indexer", "ok"})

	PollRoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cross_checker_poll_round_duration_seconds",
		Help:    "Wall-clock duration of one fan-out poll round",
		Buckets: prometheus.DefBuckets,
	})

	ConsensusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cross_checker_deployment_has_consensus",
		Help: "1 if the deployment's most recent agreement check found consensus, else 0",
	}, []string{"deployment"})

	BisectionProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cross_checker_bisection_probes_total",
		Help: "Total bisection probes, by outcome",
	}, []string{"outcome"})

	BisectionRunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cross_checker_bisection_runs_in_flight",
		Help: "Number of bisection runs currently being worked",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cross_checker_store_errors_total",
		Help: "Total store operation errors, by operation",
	}, []string{"op"})
)

const (
	OutcomeOK    = "1"
	OutcomeError = "0"
)
