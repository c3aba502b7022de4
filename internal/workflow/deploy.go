package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/cutover/internal/activity"
	"github.com/edvin/cutover/internal/model"
)

// BlueGreenDeployWorkflow rolls a new image onto the standby scaling group,
// validates it over the isolated synthetic path, shifts production traffic
// to it, and watches it for the rollback window before finalizing. Any
// failure before the shift aborts with the active group untouched; a failed
// validation window reverses the shift.
//
// The workflow ID doubles as the deployment lease for the group pair, so a
// second run against the same pair cannot start while one is in flight.
func BlueGreenDeployWorkflow(ctx workflow.Context, params model.DeployParams) error {
	logger := workflow.GetLogger(ctx)
	plan := params.Plan

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	err := workflow.ExecuteActivity(ctx, "RecordDeploymentStarted", activity.RecordStartParams{
		DeploymentID: params.DeploymentID,
		WorkflowID:   workflow.GetInfo(ctx).WorkflowExecution.ID,
		Plan:         plan,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	// Preflight: both groups and both target groups must exist, and the
	// roles must not already be crossed.
	var active, standby model.ScalingGroupSnapshot
	err = workflow.ExecuteActivity(ctx, "GetScalingGroupSnapshot", plan.ActiveGroup).Get(ctx, &active)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(ctx, "GetScalingGroupSnapshot", plan.StandbyGroup).Get(ctx, &standby)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(ctx, "VerifyTargetGroups",
		[]string{plan.MainTargetGroupARN, plan.SyntheticTargetGroupARN}).Get(ctx, nil)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	if standby.AttachedTo(plan.MainTargetGroupARN) {
		err = temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("standby group %s is attached to the main target group, roles look swapped", plan.StandbyGroup),
			activity.ErrTypeConfigurationError, nil)
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	if !active.AttachedTo(plan.MainTargetGroupARN) {
		err = temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("active group %s is not attached to the main target group", plan.ActiveGroup),
			activity.ErrTypeConfigurationError, nil)
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}

	// Drain the standby group so the rollout starts from a clean slate.
	err = workflow.ExecuteActivity(ctx, "ScaleToZero", plan.StandbyGroup).Get(ctx, nil)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = recordPhase(ctx, params.DeploymentID, model.PhaseStandbyDrained,
		fmt.Sprintf("group %s at zero capacity", plan.StandbyGroup))
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}

	// Roll the standby group onto the new image at target capacity.
	var token model.VersionToken
	err = workflow.ExecuteActivity(ctx, "UpdateVersionAndCapacity", activity.UpdateVersionParams{
		Group:   plan.StandbyGroup,
		ImageID: plan.ImageID,
		Desired: plan.DesiredCapacity,
		Min:     plan.MinSize,
		Max:     plan.MaxSize,
		Refresh: plan.Refresh,
	}).Get(ctx, &token)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(pollingActivityCtx(ctx, plan.SteadyStateTimeout), "WaitForSteadyState",
		activity.WaitSteadyParams{
			Group:   plan.StandbyGroup,
			Token:   token,
			Timeout: plan.SteadyStateTimeout,
		}).Get(ctx, &standby)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = recordPhase(ctx, params.DeploymentID, model.PhaseStandbyUpdated,
		fmt.Sprintf("group %s on image %s, template version %s", plan.StandbyGroup, plan.ImageID, token.LaunchTemplateVersion))
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}

	// Put the standby group on the synthetic path and wait until its targets
	// pass load balancer health checks.
	err = workflow.ExecuteActivity(ctx, "AttachTargetGroup", activity.TargetGroupParams{
		Group:          plan.StandbyGroup,
		TargetGroupARN: plan.SyntheticTargetGroupARN,
	}).Get(ctx, nil)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(pollingActivityCtx(ctx, plan.SteadyStateTimeout), "WaitForTargetHealth",
		activity.TargetHealthParams{
			TargetGroupARN: plan.SyntheticTargetGroupARN,
			MinHealthy:     plan.DesiredCapacity,
			Timeout:        plan.SteadyStateTimeout,
		}).Get(ctx, nil)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = recordPhase(ctx, params.DeploymentID, model.PhaseSyntheticAttached,
		fmt.Sprintf("group %s serving the synthetic path", plan.StandbyGroup))
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}

	// Probe the new version over the tagged path. A failed verdict aborts
	// with the active group untouched; the standby group keeps its capacity
	// and synthetic attachment so the failure can be inspected.
	synthCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         ao.RetryPolicy,
	})
	var synth model.SyntheticResult
	err = workflow.ExecuteActivity(synthCtx, "RunSyntheticProbes", plan.Synthetic).Get(ctx, &synth)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	if !synth.Passed {
		reason := fmt.Sprintf("synthetic checks failed: %d of %d probes", len(synth.Failures), synth.Probes)
		_ = recordPhase(ctx, params.DeploymentID, model.PhaseSyntheticEvaluated, reason)
		abortDeployment(ctx, params.DeploymentID, reason)
		return temporal.NewApplicationError(reason, activity.ErrTypeValidationFailure)
	}
	err = recordPhase(ctx, params.DeploymentID, model.PhaseSyntheticEvaluated,
		fmt.Sprintf("%d probes passed", synth.Probes))
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}

	// Cut production traffic over. The standby group joins the main target
	// group first, so both groups serve while its targets warm up; only then
	// does the active group leave rotation. There is no instant with nothing
	// attached.
	var activeNow model.ScalingGroupSnapshot
	err = workflow.ExecuteActivity(ctx, "GetScalingGroupSnapshot", plan.ActiveGroup).Get(ctx, &activeNow)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(ctx, "AttachTargetGroup", activity.TargetGroupParams{
		Group:          plan.StandbyGroup,
		TargetGroupARN: plan.MainTargetGroupARN,
	}).Get(ctx, nil)
	if err != nil {
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(pollingActivityCtx(ctx, plan.SteadyStateTimeout), "WaitForTargetHealth",
		activity.TargetHealthParams{
			TargetGroupARN: plan.MainTargetGroupARN,
			MinHealthy:     plan.DesiredCapacity + int32(activeNow.InServiceCount()),
			Timeout:        plan.SteadyStateTimeout,
		}).Get(ctx, nil)
	if err != nil {
		unshift(ctx, plan)
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	err = workflow.ExecuteActivity(ctx, "PutInstancesInStandby", plan.ActiveGroup).Get(ctx, nil)
	if err != nil {
		unshift(ctx, plan)
		abortDeployment(ctx, params.DeploymentID, err.Error())
		return err
	}
	if err := recordPhase(ctx, params.DeploymentID, model.PhaseTrafficShifted,
		fmt.Sprintf("group %s attached to main, group %s out of rotation", plan.StandbyGroup, plan.ActiveGroup)); err != nil {
		logger.Warn("audit record failed", "phase", model.PhaseTrafficShifted, "error", err)
	}

	// Watch the new version for the rollback window.
	if err := recordPhase(ctx, params.DeploymentID, model.PhaseValidating,
		fmt.Sprintf("window %s", plan.RollbackWindow)); err != nil {
		logger.Warn("audit record failed", "phase", model.PhaseValidating, "error", err)
	}
	outcome := runValidationWindow(ctx, params)
	if !outcome.Passed {
		logger.Warn("validation window failed", "reason", outcome.Reason, "elapsed", outcome.Elapsed)
		return rollBack(ctx, params, outcome.Reason)
	}

	// Finalize: the old fleet leaves the main group, the new fleet leaves
	// the synthetic path, and the old fleet drains to zero.
	err = workflow.ExecuteActivity(ctx, "DetachTargetGroup", activity.TargetGroupParams{
		Group:          plan.ActiveGroup,
		TargetGroupARN: plan.MainTargetGroupARN,
	}).Get(ctx, nil)
	if err != nil {
		return failFinalize(ctx, params, err)
	}
	err = workflow.ExecuteActivity(ctx, "DetachTargetGroup", activity.TargetGroupParams{
		Group:          plan.StandbyGroup,
		TargetGroupARN: plan.SyntheticTargetGroupARN,
	}).Get(ctx, nil)
	if err != nil {
		return failFinalize(ctx, params, err)
	}
	// Standby instances do not count against desired capacity, so return
	// them to service before the scale-in or they would outlive it.
	err = workflow.ExecuteActivity(ctx, "PutInstancesInService", plan.ActiveGroup).Get(ctx, nil)
	if err != nil {
		return failFinalize(ctx, params, err)
	}
	err = workflow.ExecuteActivity(ctx, "ScaleToZero", plan.ActiveGroup).Get(ctx, nil)
	if err != nil {
		return failFinalize(ctx, params, err)
	}

	if err := recordPhase(ctx, params.DeploymentID, model.PhaseFinalized,
		fmt.Sprintf("group %s serving, group %s drained", plan.StandbyGroup, plan.ActiveGroup)); err != nil {
		logger.Warn("audit record failed", "phase", model.PhaseFinalized, "error", err)
	}
	if err := finishDeployment(ctx, params.DeploymentID, model.PhaseFinalized, model.StatusSucceeded, ""); err != nil {
		logger.Warn("audit record failed", "phase", model.PhaseFinalized, "error", err)
	}
	logger.Info("deployment finalized",
		"active", plan.ActiveGroup, "standby", plan.StandbyGroup, "image", plan.ImageID)
	return nil
}

// runValidationWindow races the validation monitor against an operator
// forcing rollback. Losing the monitor itself counts as a failed window; a
// version that cannot be observed cannot be trusted.
func runValidationWindow(ctx workflow.Context, params model.DeployParams) model.ValidationOutcome {
	plan := params.Plan
	forceCh := workflow.GetSignalChannel(ctx, model.ForceRollbackSignalName)

	// A signal sent before the window opened still forces rollback.
	var detail string
	if forceCh.ReceiveAsync(&detail) {
		return model.ValidationOutcome{Passed: false, Reason: forcedReason(detail)}
	}

	monitorCtx, cancelMonitor := workflow.WithCancel(pollingActivityCtx(ctx, plan.RollbackWindow))
	fut := workflow.ExecuteActivity(monitorCtx, "MonitorValidation", activity.MonitorValidationParams{
		TargetGroupARN:      plan.MainTargetGroupARN,
		Window:              plan.RollbackWindow,
		AlarmNames:          plan.Validation.AlarmNames,
		MaxUnhealthyTargets: int32(plan.Validation.MaxUnhealthyTargets),
	})

	var (
		outcome    model.ValidationOutcome
		monitorErr error
		forced     bool
	)
	start := workflow.Now(ctx)
	selector := workflow.NewSelector(ctx)
	selector.AddFuture(fut, func(f workflow.Future) {
		monitorErr = f.Get(ctx, &outcome)
	})
	selector.AddReceive(forceCh, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &detail)
		forced = true
	})
	selector.Select(ctx)

	if forced {
		cancelMonitor()
		return model.ValidationOutcome{
			Passed:  false,
			Reason:  forcedReason(detail),
			Elapsed: workflow.Now(ctx).Sub(start),
		}
	}
	if monitorErr != nil {
		return model.ValidationOutcome{
			Passed:  false,
			Reason:  "validation monitor failed: " + monitorErr.Error(),
			Elapsed: workflow.Now(ctx).Sub(start),
		}
	}
	return outcome
}

// rollBack restores the active group and then cuts the standby group off the
// main target group, in that order; the active group must be serving again
// before the standby group stops. Standby capacity and the synthetic
// attachment stay intact so the failed version remains inspectable. Runs on
// a disconnected context so an external cancel cannot interrupt it.
func rollBack(ctx workflow.Context, params model.DeployParams, reason string) error {
	logger := workflow.GetLogger(ctx)
	plan := params.Plan
	base, _ := workflow.NewDisconnectedContext(ctx)
	rb := rollbackActivityCtx(base)

	_ = recordPhase(base, params.DeploymentID, model.PhaseRollingBack, reason)

	err := workflow.ExecuteActivity(rb, "PutInstancesInService", plan.ActiveGroup).Get(rb, nil)
	if err != nil {
		// The active group did not come back. Detaching the standby group
		// now would leave nothing serving, so stop here.
		detail := "active group not restored: " + err.Error()
		logger.Error("rollback halted", "error", err)
		_ = recordPhase(base, params.DeploymentID, model.PhaseRollbackFailed, detail)
		_ = finishDeployment(base, params.DeploymentID, model.PhaseRollbackFailed, model.StatusFailed, detail)
		return temporal.NewApplicationError("rollback failed: "+detail, activity.ErrTypeFatal)
	}

	err = workflow.ExecuteActivity(rb, "DetachTargetGroup", activity.TargetGroupParams{
		Group:          plan.StandbyGroup,
		TargetGroupARN: plan.MainTargetGroupARN,
	}).Get(rb, nil)
	if err != nil {
		detail := "standby group still attached to main: " + err.Error()
		logger.Error("rollback incomplete", "error", err)
		_ = recordPhase(base, params.DeploymentID, model.PhaseRollbackFailed, detail)
		_ = finishDeployment(base, params.DeploymentID, model.PhaseRollbackFailed, model.StatusFailed, detail)
		return temporal.NewApplicationError("rollback failed: "+detail, activity.ErrTypeFatal)
	}

	_ = recordPhase(base, params.DeploymentID, model.PhaseRolledBack,
		fmt.Sprintf("group %s restored, group %s detached from main", plan.ActiveGroup, plan.StandbyGroup))
	_ = finishDeployment(base, params.DeploymentID, model.PhaseRolledBack, model.StatusFailed, reason)
	logger.Info("rollback complete", "active", plan.ActiveGroup, "standby", plan.StandbyGroup)
	return temporal.NewApplicationError("deployment rolled back: "+reason, activity.ErrTypeValidationFailure)
}

// unshift reverses a partial traffic shift so the active group serves alone
// again. Used when the shift itself fails part-way through.
func unshift(ctx workflow.Context, plan model.DeploymentPlan) {
	dc, _ := workflow.NewDisconnectedContext(ctx)
	rb := rollbackActivityCtx(dc)
	_ = workflow.ExecuteActivity(rb, "PutInstancesInService", plan.ActiveGroup).Get(rb, nil)
	_ = workflow.ExecuteActivity(rb, "DetachTargetGroup", activity.TargetGroupParams{
		Group:          plan.StandbyGroup,
		TargetGroupARN: plan.MainTargetGroupARN,
	}).Get(rb, nil)
}

// failFinalize records a run whose cutover held but whose cleanup did not.
// Traffic stays on the new version; the leftover attachments need an
// operator.
func failFinalize(ctx workflow.Context, params model.DeployParams, err error) error {
	reason := "finalize failed: " + err.Error()
	workflow.GetLogger(ctx).Error("finalize failed", "error", err)
	_ = finishDeployment(ctx, params.DeploymentID, model.PhaseValidating, model.StatusFailed, reason)
	return err
}
