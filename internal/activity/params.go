package activity

import (
	"time"

	"github.com/edvin/cutover/internal/model"
)

// UpdateVersionParams holds parameters for rolling a group onto a new image.
type UpdateVersionParams struct {
	Group   string
	ImageID string
	Desired int32
	Min     int32
	Max     int32
	Refresh model.RefreshPreferences
}

// WaitSteadyParams holds parameters for waiting until a group's instance
// refresh has completed and every instance runs the expected version.
type WaitSteadyParams struct {
	Group   string
	Token   model.VersionToken
	Timeout time.Duration
}

// TargetGroupParams holds parameters for attaching or detaching a scaling
// group and a load balancer target group.
type TargetGroupParams struct {
	Group          string
	TargetGroupARN string
}

// TargetHealthParams holds parameters for waiting until a target group
// reports enough healthy targets.
type TargetHealthParams struct {
	TargetGroupARN string
	MinHealthy     int32
	Timeout        time.Duration
}

// MonitorValidationParams holds parameters for watching alarms and target
// health over the post-shift validation window.
type MonitorValidationParams struct {
	TargetGroupARN      string
	Window              time.Duration
	AlarmNames          []string
	MaxUnhealthyTargets int32
}

// RecordStartParams holds parameters for recording the start of a run.
type RecordStartParams struct {
	DeploymentID string
	WorkflowID   string
	Plan         model.DeploymentPlan
}

// RecordPhaseParams holds parameters for recording a phase transition.
type RecordPhaseParams struct {
	DeploymentID string
	Phase        model.Phase
	Detail       string
}

// RecordFinishParams holds parameters for recording a run's final state.
type RecordFinishParams struct {
	DeploymentID  string
	Phase         model.Phase
	Status        string
	FailureReason string
}
