package activity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/cutover/internal/model"
)

const defaultPollInterval = 10 * time.Second

// ASG contains activities that read and mutate auto-scaling groups: capacity
// changes, launch template rollouts, and standby transitions. Every method is
// safe to re-run; mutations check observed state first and skip work that has
// already happened.
type ASG struct {
	asg          AutoScalingAPI
	ec2          EC2API
	logger       zerolog.Logger
	pollInterval time.Duration
}

// NewASG creates a new ASG activity struct.
func NewASG(asgClient AutoScalingAPI, ec2Client EC2API, logger zerolog.Logger) *ASG {
	return &ASG{asg: asgClient, ec2: ec2Client, logger: logger, pollInterval: defaultPollInterval}
}

// GetScalingGroupSnapshot returns the current state of a scaling group. A
// group that does not exist is a configuration error, not a transient one.
func (a *ASG) GetScalingGroupSnapshot(ctx context.Context, group string) (*model.ScalingGroupSnapshot, error) {
	g, err := a.describeGroup(ctx, group)
	if err != nil {
		return nil, err
	}

	snap := &model.ScalingGroupSnapshot{
		Name:            aws.ToString(g.AutoScalingGroupName),
		DesiredCapacity: aws.ToInt32(g.DesiredCapacity),
		MinSize:         aws.ToInt32(g.MinSize),
		MaxSize:         aws.ToInt32(g.MaxSize),
		TargetGroupARNs: g.TargetGroupARNs,
	}
	if g.LaunchTemplate != nil {
		snap.LaunchTemplateID = aws.ToString(g.LaunchTemplate.LaunchTemplateId)
		snap.LaunchTemplateVersion = aws.ToString(g.LaunchTemplate.Version)

		if imageID, _, err := a.resolveLaunchTemplate(ctx, snap.LaunchTemplateID, snap.LaunchTemplateVersion); err == nil {
			snap.ImageID = imageID
		}
	}
	for _, inst := range g.Instances {
		is := model.InstanceSnapshot{
			ID:             aws.ToString(inst.InstanceId),
			LifecycleState: string(inst.LifecycleState),
			HealthStatus:   aws.ToString(inst.HealthStatus),
		}
		if inst.LaunchTemplate != nil {
			is.LaunchTemplateVersion = aws.ToString(inst.LaunchTemplate.Version)
		}
		snap.Instances = append(snap.Instances, is)
	}
	return snap, nil
}

// ScaleToZero drains a group by setting desired capacity and minimum size to
// zero. The maximum size is left alone so the group can be restored later.
// A group already at zero is left untouched.
func (a *ASG) ScaleToZero(ctx context.Context, group string) error {
	g, err := a.describeGroup(ctx, group)
	if err != nil {
		return err
	}
	if aws.ToInt32(g.DesiredCapacity) == 0 && aws.ToInt32(g.MinSize) == 0 {
		a.logger.Info().Str("group", group).Msg("group already at zero capacity")
		return nil
	}

	_, err = a.asg.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(group),
		DesiredCapacity:      aws.Int32(0),
		MinSize:              aws.Int32(0),
	})
	if err != nil {
		return wrapAWS("scale "+group+" to zero", err)
	}
	a.logger.Info().Str("group", group).Msg("scaled group to zero")
	return nil
}

// UpdateVersionAndCapacity points a group at the requested image and
// capacity, then starts a rolling instance refresh. When the group's launch
// template already carries the image, no new template version is created and
// the refresh rolls onto the existing one. The returned token pins the
// concrete template version and refresh ID for steady-state correlation.
func (a *ASG) UpdateVersionAndCapacity(ctx context.Context, params UpdateVersionParams) (*model.VersionToken, error) {
	g, err := a.describeGroup(ctx, params.Group)
	if err != nil {
		return nil, err
	}
	if g.LaunchTemplate == nil || g.LaunchTemplate.LaunchTemplateId == nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("scaling group %s has no launch template", params.Group), ErrTypeConfigurationError, nil)
	}

	ltID := aws.ToString(g.LaunchTemplate.LaunchTemplateId)
	currentImage, currentVersion, err := a.resolveLaunchTemplate(ctx, ltID, aws.ToString(g.LaunchTemplate.Version))
	if err != nil {
		return nil, err
	}

	targetVersion := currentVersion
	if currentImage != params.ImageID {
		out, err := a.ec2.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
			LaunchTemplateId: aws.String(ltID),
			SourceVersion:    aws.String(currentVersion),
			LaunchTemplateData: &ec2types.RequestLaunchTemplateData{
				ImageId: aws.String(params.ImageID),
			},
		})
		if err != nil {
			return nil, wrapAWS("create launch template version for "+params.Group, err)
		}
		targetVersion = strconv.FormatInt(aws.ToInt64(out.LaunchTemplateVersion.VersionNumber), 10)
		a.logger.Info().
			Str("group", params.Group).
			Str("image_id", params.ImageID).
			Str("version", targetVersion).
			Msg("created launch template version")
	} else {
		a.logger.Info().
			Str("group", params.Group).
			Str("image_id", params.ImageID).
			Str("version", currentVersion).
			Msg("launch template already on requested image")
	}

	// Pin the group to the concrete version number so instances report a
	// version comparable against the token even when the group previously
	// tracked $Latest or $Default.
	_, err = a.asg.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(params.Group),
		DesiredCapacity:      aws.Int32(params.Desired),
		MinSize:              aws.Int32(params.Min),
		MaxSize:              aws.Int32(params.Max),
		LaunchTemplate: &astypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(ltID),
			Version:          aws.String(targetVersion),
		},
	})
	if err != nil {
		return nil, wrapAWS("update scaling group "+params.Group, err)
	}

	refresh, err := a.asg.StartInstanceRefresh(ctx, &autoscaling.StartInstanceRefreshInput{
		AutoScalingGroupName: aws.String(params.Group),
		Strategy:             astypes.RefreshStrategyRolling,
		Preferences: &astypes.RefreshPreferences{
			MinHealthyPercentage: aws.Int32(params.Refresh.MinHealthyPercentage),
			MaxHealthyPercentage: aws.Int32(params.Refresh.MaxHealthyPercentage),
			InstanceWarmup:       aws.Int32(params.Refresh.InstanceWarmupSec),
			SkipMatching:         aws.Bool(params.Refresh.SkipMatching),
		},
	})
	if err != nil {
		return nil, wrapAWS("start instance refresh on "+params.Group, err)
	}

	token := &model.VersionToken{
		LaunchTemplateID:      ltID,
		LaunchTemplateVersion: targetVersion,
		InstanceRefreshID:     aws.ToString(refresh.InstanceRefreshId),
	}
	a.logger.Info().
		Str("group", params.Group).
		Str("refresh_id", token.InstanceRefreshID).
		Str("version", token.LaunchTemplateVersion).
		Msg("started instance refresh")
	return token, nil
}

// WaitForSteadyState blocks until the instance refresh identified by the
// token has finished and every instance in the group is InService on the
// token's template version. Instances still on a prior version after the
// refresh completes are terminated so their replacements land on the new
// one. The wait is bounded by params.Timeout.
func (a *ASG) WaitForSteadyState(ctx context.Context, params WaitSteadyParams) (*model.ScalingGroupSnapshot, error) {
	deadline := time.Now().Add(params.Timeout)

	if err := a.waitForRefresh(ctx, params, deadline); err != nil {
		return nil, err
	}

	for {
		snap, err := a.GetScalingGroupSnapshot(ctx, params.Group)
		if err != nil {
			return nil, err
		}

		var stale []string
		settled := int32(len(snap.Instances)) >= snap.DesiredCapacity
		for _, inst := range snap.Instances {
			if inst.LaunchTemplateVersion != params.Token.LaunchTemplateVersion {
				settled = false
				if !strings.HasPrefix(inst.LifecycleState, model.LifecycleTerminating) {
					stale = append(stale, inst.ID)
				}
				continue
			}
			if inst.LifecycleState != model.LifecycleInService {
				settled = false
			}
		}

		if len(stale) > 0 {
			a.logger.Warn().
				Str("group", params.Group).
				Strs("instances", stale).
				Msg("terminating instances still on prior version")
			_, err := a.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: stale})
			if err != nil {
				return nil, wrapAWS("terminate stale instances in "+params.Group, err)
			}
		} else if settled {
			a.logger.Info().
				Str("group", params.Group).
				Int("instances", len(snap.Instances)).
				Msg("group reached steady state")
			return snap, nil
		}

		heartbeat(ctx, fmt.Sprintf("%s: %d/%d in service on version %s",
			params.Group, snap.InServiceCount(), snap.DesiredCapacity, params.Token.LaunchTemplateVersion))
		if err := a.sleepOrExpire(ctx, deadline, params); err != nil {
			return nil, err
		}
	}
}

// waitForRefresh polls the instance refresh until it reaches a terminal
// status. Cancelled and failed refreshes abort the deployment.
func (a *ASG) waitForRefresh(ctx context.Context, params WaitSteadyParams, deadline time.Time) error {
	for {
		out, err := a.asg.DescribeInstanceRefreshes(ctx, &autoscaling.DescribeInstanceRefreshesInput{
			AutoScalingGroupName: aws.String(params.Group),
			InstanceRefreshIds:   []string{params.Token.InstanceRefreshID},
		})
		if err != nil {
			return wrapAWS("describe instance refresh on "+params.Group, err)
		}
		if len(out.InstanceRefreshes) == 0 {
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("instance refresh %s not found on %s", params.Token.InstanceRefreshID, params.Group),
				ErrTypeConfigurationError, nil)
		}

		refresh := out.InstanceRefreshes[0]
		switch refresh.Status {
		case astypes.InstanceRefreshStatusSuccessful:
			return nil
		case astypes.InstanceRefreshStatusFailed, astypes.InstanceRefreshStatusCancelled,
			astypes.InstanceRefreshStatusRollbackSuccessful, astypes.InstanceRefreshStatusRollbackFailed:
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("instance refresh %s on %s ended %s: %s",
					params.Token.InstanceRefreshID, params.Group, refresh.Status, aws.ToString(refresh.StatusReason)),
				ErrTypeRefreshFailed, nil)
		}

		heartbeat(ctx, fmt.Sprintf("%s: refresh %s %s (%d%%)",
			params.Group, params.Token.InstanceRefreshID, refresh.Status, aws.ToInt32(refresh.PercentageComplete)))
		if err := a.sleepOrExpire(ctx, deadline, params); err != nil {
			return err
		}
	}
}

// PutInstancesInStandby moves every InService instance of a group into
// standby, with desired capacity decremented so no replacements launch.
// Standby instances stay warm and can return to service immediately.
func (a *ASG) PutInstancesInStandby(ctx context.Context, group string) error {
	snap, err := a.GetScalingGroupSnapshot(ctx, group)
	if err != nil {
		return err
	}

	var ids []string
	for _, inst := range snap.Instances {
		if inst.LifecycleState == model.LifecycleInService {
			ids = append(ids, inst.ID)
		}
	}
	if len(ids) == 0 {
		a.logger.Info().Str("group", group).Msg("no in-service instances to move to standby")
		return nil
	}

	_, err = a.asg.EnterStandby(ctx, &autoscaling.EnterStandbyInput{
		AutoScalingGroupName:           aws.String(group),
		InstanceIds:                    ids,
		ShouldDecrementDesiredCapacity: aws.Bool(true),
	})
	if err != nil {
		return wrapAWS("enter standby on "+group, err)
	}
	a.logger.Info().Str("group", group).Strs("instances", ids).Msg("moved instances to standby")
	return nil
}

// PutInstancesInService returns every Standby instance of a group to
// service. A group with no standby instances is left untouched.
func (a *ASG) PutInstancesInService(ctx context.Context, group string) error {
	snap, err := a.GetScalingGroupSnapshot(ctx, group)
	if err != nil {
		return err
	}

	var ids []string
	for _, inst := range snap.Instances {
		if inst.LifecycleState == model.LifecycleStandby {
			ids = append(ids, inst.ID)
		}
	}
	if len(ids) == 0 {
		a.logger.Info().Str("group", group).Msg("no standby instances to return to service")
		return nil
	}

	_, err = a.asg.ExitStandby(ctx, &autoscaling.ExitStandbyInput{
		AutoScalingGroupName: aws.String(group),
		InstanceIds:          ids,
	})
	if err != nil {
		return wrapAWS("exit standby on "+group, err)
	}
	a.logger.Info().Str("group", group).Strs("instances", ids).Msg("returned instances to service")
	return nil
}

func (a *ASG) describeGroup(ctx context.Context, name string) (*astypes.AutoScalingGroup, error) {
	out, err := a.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, wrapAWS("describe scaling group "+name, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, temporal.NewNonRetryableApplicationError(
			"scaling group "+name+" not found", ErrTypeConfigurationError, nil)
	}
	return &out.AutoScalingGroups[0], nil
}

// resolveLaunchTemplate resolves a template version spec ($Latest, $Default
// or a number) to its image ID and concrete version number.
func (a *ASG) resolveLaunchTemplate(ctx context.Context, ltID, version string) (string, string, error) {
	if version == "" {
		version = "$Default"
	}
	out, err := a.ec2.DescribeLaunchTemplateVersions(ctx, &ec2.DescribeLaunchTemplateVersionsInput{
		LaunchTemplateId: aws.String(ltID),
		Versions:         []string{version},
	})
	if err != nil {
		return "", "", wrapAWS("describe launch template "+ltID, err)
	}
	if len(out.LaunchTemplateVersions) == 0 {
		return "", "", temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("launch template %s version %s not found", ltID, version), ErrTypeConfigurationError, nil)
	}

	ltv := out.LaunchTemplateVersions[0]
	imageID := ""
	if ltv.LaunchTemplateData != nil {
		imageID = aws.ToString(ltv.LaunchTemplateData.ImageId)
	}
	return imageID, strconv.FormatInt(aws.ToInt64(ltv.VersionNumber), 10), nil
}

func (a *ASG) sleepOrExpire(ctx context.Context, deadline time.Time, params WaitSteadyParams) error {
	if time.Now().After(deadline) {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("group %s not steady after %s", params.Group, params.Timeout), ErrTypeTimeout, nil)
	}
	return wait(ctx, a.pollInterval)
}
