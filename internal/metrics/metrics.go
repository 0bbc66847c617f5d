// Package metrics defines this node's internal Prometheus instrumentation:
// counters and gauges for the breaker, oplog, replication fan-out, and
// analytics fan-out. These are ambient operational metrics, not the
// operator-facing analytics dashboards spec's Non-goals explicitly
// exclude — they exist so this process's own health is observable, the
// same role prometheus/client_golang plays in any of the pack's server
// binaries. All of them are registered and exported on /metrics; only
// BreakerState is set (by cmd/server's breaker-state reporter), and nothing
// in this repository records into the others.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerTrips counts Closed/HalfOpen -> Open transitions, per peer.
	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapjack",
		Subsystem: "breaker",
		Name:      "trips_total",
		Help:      "Circuit breaker trips to the open state, by peer node ID.",
	}, []string{"peer_id"})

	// BreakerState reports the current breaker state as a gauge (0=closed,
	// 1=half_open, 2=open), per peer.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flapjack",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current circuit breaker state by peer node ID (0=closed, 1=half_open, 2=open).",
	}, []string{"peer_id"})

	// OplogAppends counts ops appended per tenant, labeled by op kind.
	OplogAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapjack",
		Subsystem: "oplog",
		Name:      "appends_total",
		Help:      "Ops appended to the oplog, by tenant and op kind.",
	}, []string{"tenant", "kind"})

	// ReplicationFanOutLatency observes how long FanOutWrite's full pass
	// over every admitting peer took, in seconds.
	ReplicationFanOutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flapjack",
		Subsystem: "replication",
		Name:      "fan_out_latency_seconds",
		Help:      "Time to fan a write out to every admitting peer.",
		Buckets:   prometheus.DefBuckets,
	})

	// ReplicationCatchUpOpsApplied counts ops applied during a catch-up
	// pass, by phase (startup or periodic).
	ReplicationCatchUpOpsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapjack",
		Subsystem: "replication",
		Name:      "catch_up_ops_applied_total",
		Help:      "Ops applied while catching up from a peer, by phase.",
	}, []string{"phase"})

	// AnalyticsFanOutLatency observes how long one analytics cluster
	// query fan-out took, in seconds.
	AnalyticsFanOutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flapjack",
		Subsystem: "analytics",
		Name:      "fan_out_latency_seconds",
		Help:      "Time to fan an analytics query out to every peer and merge.",
		Buckets:   prometheus.DefBuckets,
	})

	// AnalyticsFanOutPartial counts fan-outs that completed with at least
	// one non-responding peer.
	AnalyticsFanOutPartial = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flapjack",
		Subsystem: "analytics",
		Name:      "fan_out_partial_total",
		Help:      "Analytics fan-outs that returned partial results.",
	})
)
