package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PendingMutations tracks queue depth per resource.
	PendingMutations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shardix",
			Name:      "pending_mutations",
			Help:      "Mutations accepted but not yet committed to a shard",
		},
		[]string{"resource"},
	)

	// MutationsCommitted counts mutations committed by the update worker.
	MutationsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardix",
			Name:      "mutations_committed_total",
			Help:      "Total mutations committed to the shard store",
		},
		[]string{"resource", "op"},
	)

	// CommitFailures counts mutations that failed to commit. Callers cannot
	// observe asynchronous commit failures through the HTTP interface; this
	// counter is the operational signal.
	CommitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardix",
			Name:      "commit_failures_total",
			Help:      "Total mutations dropped due to commit errors",
		},
		[]string{"resource"},
	)

	// DrainCycles counts update worker drain passes.
	DrainCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shardix",
			Name:      "drain_cycles_total",
			Help:      "Total update worker drain cycles",
		},
		[]string{"resource"},
	)
)

// RegisterEngineMetrics registers the queue/worker collectors. Called once
// from the composition root (no init side effects beyond the HTTP pair).
func RegisterEngineMetrics() {
	prometheus.MustRegister(PendingMutations)
	prometheus.MustRegister(MutationsCommitted)
	prometheus.MustRegister(CommitFailures)
	prometheus.MustRegister(DrainCycles)
}
