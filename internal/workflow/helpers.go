package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/cutover/internal/activity"
	"github.com/edvin/cutover/internal/model"
)

// pollingActivityCtx returns a workflow context for long-running polling
// activities. The close timeout covers the activity's own budget plus slack,
// and heartbeats detect a lost worker long before the budget runs out.
func pollingActivityCtx(ctx workflow.Context, budget time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: budget + 2*time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

// rollbackActivityCtx returns a workflow context for rollback steps. Their
// retry budget is independent of whatever the forward path consumed.
func rollbackActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

// recordPhase writes one phase transition to the audit trail.
func recordPhase(ctx workflow.Context, deploymentID string, phase model.Phase, detail string) error {
	return workflow.ExecuteActivity(ctx, "RecordPhase", activity.RecordPhaseParams{
		DeploymentID: deploymentID,
		Phase:        phase,
		Detail:       detail,
	}).Get(ctx, nil)
}

// finishDeployment closes out a run with its final phase and status. Callers
// on failure paths typically ignore the returned error since the primary
// error matters more.
func finishDeployment(ctx workflow.Context, deploymentID string, phase model.Phase, status, reason string) error {
	return workflow.ExecuteActivity(ctx, "RecordDeploymentFinished", activity.RecordFinishParams{
		DeploymentID:  deploymentID,
		Phase:         phase,
		Status:        status,
		FailureReason: reason,
	}).Get(ctx, nil)
}

// abortDeployment records a run that failed before production traffic moved.
// The active group is still serving, so nothing is mutated.
func abortDeployment(ctx workflow.Context, deploymentID string, reason string) {
	_ = recordPhase(ctx, deploymentID, model.PhaseAborted, reason)
	_ = finishDeployment(ctx, deploymentID, model.PhaseAborted, model.StatusFailed, reason)
}

func forcedReason(detail string) string {
	if detail == "" {
		return "rollback forced by operator"
	}
	return "rollback forced by operator: " + detail
}
