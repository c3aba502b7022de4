package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/edvin/cutover/internal/model"
)

// maxConsecutiveCheckErrors is how many poll cycles may fail to produce a
// reading before the window is failed outright. A deployment that cannot be
// observed is treated as a failing one.
const maxConsecutiveCheckErrors = 3

// check is one validation signal consulted during the rollback window. A
// check returns a non-empty reason when its failure criterion is met.
type check interface {
	Name() string
	Evaluate(ctx context.Context) (reason string, err error)
}

// Validation contains the activity that watches the new version after
// cutover. It polls every configured check for the length of the rollback
// window and reports the first failing condition without waiting the window
// out.
type Validation struct {
	cw     CloudWatchAPI
	elb    ELBV2API
	logger zerolog.Logger
	// pollInterval overrides the derived cadence when set.
	pollInterval time.Duration
}

// NewValidation creates a new Validation activity struct.
func NewValidation(cwClient CloudWatchAPI, elbClient ELBV2API, logger zerolog.Logger) *Validation {
	return &Validation{cw: cwClient, elb: elbClient, logger: logger}
}

// MonitorValidation watches alarms and target health for the duration of the
// window. It returns a failed outcome the moment any check trips, carrying
// the elapsed time at detection; an uninterrupted window returns a passed
// outcome. Check errors are tolerated for a few cycles, then fail the window.
func (a *Validation) MonitorValidation(ctx context.Context, params MonitorValidationParams) (*model.ValidationOutcome, error) {
	checks := a.checksFor(params)
	interval := a.interval(params.Window)
	start := time.Now()
	deadline := start.Add(params.Window)

	a.logger.Info().
		Dur("window", params.Window).
		Dur("interval", interval).
		Int("checks", len(checks)).
		Msg("validation window opened")

	consecutiveErrors := 0
	for {
		if !time.Now().Before(deadline) {
			a.logger.Info().Dur("window", params.Window).Msg("validation window elapsed clean")
			return &model.ValidationOutcome{Passed: true, Elapsed: params.Window}, nil
		}

		var lastErr error
		for _, c := range checks {
			reason, err := c.Evaluate(ctx)
			if err != nil {
				lastErr = err
				a.logger.Warn().Err(err).Str("check", c.Name()).Msg("validation check errored")
				continue
			}
			if reason != "" {
				elapsed := time.Since(start)
				a.logger.Warn().
					Str("check", c.Name()).
					Str("reason", reason).
					Dur("elapsed", elapsed).
					Msg("validation failed")
				return &model.ValidationOutcome{
					Passed:  false,
					Reason:  c.Name() + ": " + reason,
					Elapsed: elapsed,
				}, nil
			}
		}

		if lastErr != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveCheckErrors {
				elapsed := time.Since(start)
				return &model.ValidationOutcome{
					Passed:  false,
					Reason:  fmt.Sprintf("checks unavailable for %d cycles: %v", consecutiveErrors, lastErr),
					Elapsed: elapsed,
				}, nil
			}
		} else {
			consecutiveErrors = 0
		}

		heartbeat(ctx, fmt.Sprintf("validating %s of %s", time.Since(start).Round(time.Second), params.Window))
		if err := wait(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func (a *Validation) checksFor(params MonitorValidationParams) []check {
	var checks []check
	if len(params.AlarmNames) > 0 {
		checks = append(checks, &alarmCheck{cw: a.cw, names: params.AlarmNames})
	}
	if params.TargetGroupARN != "" {
		checks = append(checks, &targetHealthCheck{
			elb:          a.elb,
			arn:          params.TargetGroupARN,
			maxUnhealthy: params.MaxUnhealthyTargets,
		})
	}
	return checks
}

// interval keeps failure detection latency small relative to the window:
// one sixtieth of it, clamped between 1s and 10s.
func (a *Validation) interval(window time.Duration) time.Duration {
	if a.pollInterval > 0 {
		return a.pollInterval
	}
	iv := window / 60
	if iv < time.Second {
		iv = time.Second
	}
	if iv > 10*time.Second {
		iv = 10 * time.Second
	}
	return iv
}

// alarmCheck fails when any watched CloudWatch alarm is in ALARM state.
// INSUFFICIENT_DATA does not fail the window.
type alarmCheck struct {
	cw    CloudWatchAPI
	names []string
}

func (c *alarmCheck) Name() string { return "cloudwatch-alarms" }

func (c *alarmCheck) Evaluate(ctx context.Context) (string, error) {
	out, err := c.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: c.names,
		AlarmTypes: []cwtypes.AlarmType{cwtypes.AlarmTypeMetricAlarm, cwtypes.AlarmTypeCompositeAlarm},
	})
	if err != nil {
		return "", fmt.Errorf("describe alarms: %w", err)
	}
	for _, alarm := range out.MetricAlarms {
		if alarm.StateValue == cwtypes.StateValueAlarm {
			return "alarm " + aws.ToString(alarm.AlarmName) + " is in ALARM", nil
		}
	}
	for _, alarm := range out.CompositeAlarms {
		if alarm.StateValue == cwtypes.StateValueAlarm {
			return "alarm " + aws.ToString(alarm.AlarmName) + " is in ALARM", nil
		}
	}
	return "", nil
}

// targetHealthCheck fails when the main target group carries more unhealthy
// targets than the plan tolerates.
type targetHealthCheck struct {
	elb          ELBV2API
	arn          string
	maxUnhealthy int32
}

func (c *targetHealthCheck) Name() string { return "target-health" }

func (c *targetHealthCheck) Evaluate(ctx context.Context) (string, error) {
	healthy, unhealthy, total, err := targetHealthCounts(ctx, c.elb, c.arn)
	if err != nil {
		return "", err
	}
	if unhealthy > c.maxUnhealthy {
		return fmt.Sprintf("%d unhealthy targets, tolerating %d (%d/%d healthy)",
			unhealthy, c.maxUnhealthy, healthy, total), nil
	}
	return "", nil
}
