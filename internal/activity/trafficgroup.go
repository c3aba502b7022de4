package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"
)

// TrafficGroup contains activities that manage which scaling groups receive
// traffic from which load balancer target groups. Attach and detach check
// the current attachment first so re-running them after a crash is safe.
type TrafficGroup struct {
	asg          AutoScalingAPI
	elb          ELBV2API
	logger       zerolog.Logger
	pollInterval time.Duration
}

// NewTrafficGroup creates a new TrafficGroup activity struct.
func NewTrafficGroup(asgClient AutoScalingAPI, elbClient ELBV2API, logger zerolog.Logger) *TrafficGroup {
	return &TrafficGroup{asg: asgClient, elb: elbClient, logger: logger, pollInterval: defaultPollInterval}
}

// VerifyTargetGroups confirms every referenced target group exists before
// any mutation happens.
func (a *TrafficGroup) VerifyTargetGroups(ctx context.Context, arns []string) error {
	_, err := a.elb.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		TargetGroupArns: arns,
	})
	if err != nil {
		var notFound *elbv2types.TargetGroupNotFoundException
		if errors.As(err, &notFound) {
			return temporal.NewNonRetryableApplicationError(
				"target group not found: "+err.Error(), ErrTypeConfigurationError, err)
		}
		return wrapAWS("describe target groups", err)
	}
	return nil
}

// AttachTargetGroup attaches a scaling group to a target group. An existing
// attachment is left in place.
func (a *TrafficGroup) AttachTargetGroup(ctx context.Context, params TargetGroupParams) error {
	attached, err := a.isAttached(ctx, params)
	if err != nil {
		return err
	}
	if attached {
		a.logger.Info().
			Str("group", params.Group).
			Str("target_group", params.TargetGroupARN).
			Msg("group already attached to target group")
		return nil
	}

	_, err = a.asg.AttachLoadBalancerTargetGroups(ctx, &autoscaling.AttachLoadBalancerTargetGroupsInput{
		AutoScalingGroupName: aws.String(params.Group),
		TargetGroupARNs:      []string{params.TargetGroupARN},
	})
	if err != nil {
		return wrapAWS(fmt.Sprintf("attach %s to target group", params.Group), err)
	}
	a.logger.Info().
		Str("group", params.Group).
		Str("target_group", params.TargetGroupARN).
		Msg("attached group to target group")
	return nil
}

// DetachTargetGroup detaches a scaling group from a target group. A missing
// attachment is not an error; the detach may have already happened.
func (a *TrafficGroup) DetachTargetGroup(ctx context.Context, params TargetGroupParams) error {
	attached, err := a.isAttached(ctx, params)
	if err != nil {
		return err
	}
	if !attached {
		a.logger.Info().
			Str("group", params.Group).
			Str("target_group", params.TargetGroupARN).
			Msg("group not attached to target group")
		return nil
	}

	_, err = a.asg.DetachLoadBalancerTargetGroups(ctx, &autoscaling.DetachLoadBalancerTargetGroupsInput{
		AutoScalingGroupName: aws.String(params.Group),
		TargetGroupARNs:      []string{params.TargetGroupARN},
	})
	if err != nil {
		return wrapAWS(fmt.Sprintf("detach %s from target group", params.Group), err)
	}
	a.logger.Info().
		Str("group", params.Group).
		Str("target_group", params.TargetGroupARN).
		Msg("detached group from target group")
	return nil
}

// WaitForTargetHealth blocks until the target group reports at least
// MinHealthy healthy targets, bounded by params.Timeout.
func (a *TrafficGroup) WaitForTargetHealth(ctx context.Context, params TargetHealthParams) error {
	deadline := time.Now().Add(params.Timeout)
	for {
		healthy, _, total, err := targetHealthCounts(ctx, a.elb, params.TargetGroupARN)
		if err != nil {
			return err
		}
		if healthy >= params.MinHealthy {
			a.logger.Info().
				Str("target_group", params.TargetGroupARN).
				Int32("healthy", healthy).
				Int32("total", total).
				Msg("target group healthy")
			return nil
		}

		heartbeat(ctx, fmt.Sprintf("%d/%d targets healthy, want %d", healthy, total, params.MinHealthy))
		if time.Now().After(deadline) {
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("target group %s: %d/%d healthy after %s",
					params.TargetGroupARN, healthy, params.MinHealthy, params.Timeout),
				ErrTypeTimeout, nil)
		}
		if err := wait(ctx, a.pollInterval); err != nil {
			return err
		}
	}
}

func (a *TrafficGroup) isAttached(ctx context.Context, params TargetGroupParams) (bool, error) {
	input := &autoscaling.DescribeLoadBalancerTargetGroupsInput{
		AutoScalingGroupName: aws.String(params.Group),
	}
	for {
		out, err := a.asg.DescribeLoadBalancerTargetGroups(ctx, input)
		if err != nil {
			return false, wrapAWS(fmt.Sprintf("describe target groups of %s", params.Group), err)
		}
		for _, tg := range out.LoadBalancerTargetGroups {
			if aws.ToString(tg.LoadBalancerTargetGroupARN) == params.TargetGroupARN {
				return isAttachedState(tg.State), nil
			}
		}
		if out.NextToken == nil {
			return false, nil
		}
		input.NextToken = out.NextToken
	}
}

// isAttachedState reports whether an attachment state still routes or will
// route traffic. Removing and Removed count as detached.
func isAttachedState(state *string) bool {
	switch aws.ToString(state) {
	case "Removing", "Removed":
		return false
	default:
		return true
	}
}

// targetHealthCounts returns healthy, unhealthy and total registered target
// counts for one target group.
func targetHealthCounts(ctx context.Context, elb ELBV2API, targetGroupARN string) (healthy, unhealthy, total int32, err error) {
	out, err := elb.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(targetGroupARN),
	})
	if err != nil {
		var notFound *elbv2types.TargetGroupNotFoundException
		if errors.As(err, &notFound) {
			return 0, 0, 0, temporal.NewNonRetryableApplicationError(
				"target group "+targetGroupARN+" not found", ErrTypeConfigurationError, err)
		}
		return 0, 0, 0, wrapAWS("describe target health", err)
	}

	for _, d := range out.TargetHealthDescriptions {
		total++
		if d.TargetHealth == nil {
			continue
		}
		switch d.TargetHealth.State {
		case elbv2types.TargetHealthStateEnumHealthy:
			healthy++
		case elbv2types.TargetHealthStateEnumUnhealthy:
			unhealthy++
		}
	}
	return healthy, unhealthy, total, nil
}
