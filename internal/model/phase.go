package model

// Phase identifies a state of the blue/green deployment state machine.
// Phases advance strictly in the order defined by the workflow; terminal
// phases are never left once entered.
type Phase string

const (
	PhaseInit               Phase = "init"
	PhaseStandbyDrained     Phase = "standby_drained"
	PhaseStandbyUpdated     Phase = "standby_updated"
	PhaseSyntheticAttached  Phase = "synthetic_attached"
	PhaseSyntheticEvaluated Phase = "synthetic_evaluated"
	PhaseTrafficShifted     Phase = "traffic_shifted"
	PhaseValidating         Phase = "validating"
	PhaseFinalized          Phase = "finalized"
	PhaseAborted            Phase = "aborted"
	PhaseRollingBack        Phase = "rolling_back"
	PhaseRolledBack         Phase = "rolled_back"
	// PhaseRollbackFailed is entered when a rollback step exhausts its
	// retries. It is terminal and requires operator intervention.
	PhaseRollbackFailed Phase = "rollback_failed"
)

// Terminal reports whether the phase ends the deployment run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseFinalized, PhaseAborted, PhaseRolledBack, PhaseRollbackFailed:
		return true
	}
	return false
}

func (p Phase) String() string {
	return string(p)
}

// AsgRole tags which of the two scaling groups a deployment treats as the
// production-serving group and which hosts the incoming version. Roles are
// fixed for the duration of one deployment and swap meaning across runs.
type AsgRole string

const (
	RoleActive  AsgRole = "active"
	RoleStandby AsgRole = "standby"
)
