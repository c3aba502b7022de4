package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseTransitions counts deployment state machine transitions by phase.
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployment_phase_transitions_total",
			Help: "Total number of deployment phase transitions",
		},
		[]string{"phase"},
	)

	// DeploymentsFinished counts completed deployment runs by final status.
	DeploymentsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployments_finished_total",
			Help: "Total number of finished deployment runs",
		},
		[]string{"status"},
	)

	// SyntheticProbes counts synthetic validation probes by verdict.
	SyntheticProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthetic_probes_total",
			Help: "Total number of synthetic validation probes",
		},
		[]string{"result"},
	)

	// ActivityFailures counts failed activity executions by activity and
	// error type.
	ActivityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_failures_total",
			Help: "Total number of failed activity executions",
		},
		[]string{"activity", "type"},
	)
)
