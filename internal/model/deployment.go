package model

import "time"

// Deployment run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ForceRollbackSignalName is the workflow signal an operator sends to
// short-circuit the validation window into the rollback path.
const ForceRollbackSignalName = "force-rollback"

// DeployParams is the workflow argument for one blue/green deployment run.
type DeployParams struct {
	DeploymentID string
	Plan         DeploymentPlan
}

// Deployment is one recorded deployment run.
type Deployment struct {
	ID               string     `json:"id" db:"id"`
	WorkflowID       string     `json:"workflow_id" db:"workflow_id"`
	ActiveGroup      string     `json:"active_group" db:"active_group"`
	StandbyGroup     string     `json:"standby_group" db:"standby_group"`
	ImageID          string     `json:"image_id" db:"image_id"`
	Phase            Phase      `json:"phase" db:"phase"`
	Status           string     `json:"status" db:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	LastTransitionAt *time.Time `json:"last_transition_at,omitempty" db:"last_transition_at"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// DeploymentEvent is one phase transition in a deployment's audit trail.
// Events form the linear, timestamped log required for every transition of
// the state machine.
type DeploymentEvent struct {
	ID           string    `json:"id" db:"id"`
	DeploymentID string    `json:"deployment_id" db:"deployment_id"`
	Phase        Phase     `json:"phase" db:"phase"`
	Detail       string    `json:"detail,omitempty" db:"detail"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
