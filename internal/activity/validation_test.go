package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestValidation(cwMock *mockCloudWatch, elbMock *mockELB) *Validation {
	a := NewValidation(cwMock, elbMock, zerolog.Nop())
	a.pollInterval = time.Millisecond
	return a
}

func alarmsOutput(state cwtypes.StateValue, names ...string) *cloudwatch.DescribeAlarmsOutput {
	out := &cloudwatch.DescribeAlarmsOutput{}
	for _, name := range names {
		out.MetricAlarms = append(out.MetricAlarms, cwtypes.MetricAlarm{
			AlarmName:  aws.String(name),
			StateValue: state,
		})
	}
	return out
}

// ---------- MonitorValidation ----------

func TestValidation_MonitorValidation_CleanWindow(t *testing.T) {
	cwMock := &mockCloudWatch{}
	elbMock := &mockELB{}
	a := newTestValidation(cwMock, elbMock)
	ctx := context.Background()

	// INSUFFICIENT_DATA does not fail the window.
	cwMock.On("DescribeAlarms", ctx, mock.MatchedBy(func(in *cloudwatch.DescribeAlarmsInput) bool {
		return len(in.AlarmNames) == 1 && in.AlarmNames[0] == "app-5xx-rate" && len(in.AlarmTypes) == 2
	})).Return(alarmsOutput(cwtypes.StateValueInsufficientData, "app-5xx-rate"), nil)
	elbMock.On("DescribeTargetHealth", ctx, mock.Anything).Return(targetHealthOutput(
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumHealthy,
	), nil)

	window := 25 * time.Millisecond
	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		TargetGroupARN: tgARN,
		Window:         window,
		AlarmNames:     []string{"app-5xx-rate"},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Passed)
	assert.Empty(t, outcome.Reason)
	assert.Equal(t, window, outcome.Elapsed)
	cwMock.AssertExpectations(t)
	elbMock.AssertExpectations(t)
}

func TestValidation_MonitorValidation_AlarmTrips(t *testing.T) {
	cwMock := &mockCloudWatch{}
	elbMock := &mockELB{}
	a := newTestValidation(cwMock, elbMock)
	ctx := context.Background()

	cwMock.On("DescribeAlarms", ctx, mock.Anything).Return(
		alarmsOutput(cwtypes.StateValueOk, "app-5xx-rate"), nil).Once()
	cwMock.On("DescribeAlarms", ctx, mock.Anything).Return(
		alarmsOutput(cwtypes.StateValueAlarm, "app-5xx-rate"), nil)
	elbMock.On("DescribeTargetHealth", ctx, mock.Anything).Return(targetHealthOutput(
		elbv2types.TargetHealthStateEnumHealthy,
	), nil)

	// The window is far longer than the test runs; tripping must return
	// without waiting it out.
	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		TargetGroupARN: tgARN,
		Window:         10 * time.Second,
		AlarmNames:     []string{"app-5xx-rate"},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Contains(t, outcome.Reason, "cloudwatch-alarms: alarm app-5xx-rate is in ALARM")
	assert.Less(t, outcome.Elapsed, 10*time.Second)
	cwMock.AssertExpectations(t)
	elbMock.AssertExpectations(t)
}

func TestValidation_MonitorValidation_UnhealthyBeyondTolerance(t *testing.T) {
	elbMock := &mockELB{}
	a := newTestValidation(&mockCloudWatch{}, elbMock)
	ctx := context.Background()

	elbMock.On("DescribeTargetHealth", ctx, mock.Anything).Return(targetHealthOutput(
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumHealthy,
	), nil).Once()
	elbMock.On("DescribeTargetHealth", ctx, mock.Anything).Return(targetHealthOutput(
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumUnhealthy,
		elbv2types.TargetHealthStateEnumUnhealthy,
	), nil)

	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		TargetGroupARN:      tgARN,
		Window:              10 * time.Second,
		MaxUnhealthyTargets: 1,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Contains(t, outcome.Reason, "target-health: 2 unhealthy targets, tolerating 1")
	elbMock.AssertExpectations(t)
}

func TestValidation_MonitorValidation_UnhealthyWithinTolerance(t *testing.T) {
	elbMock := &mockELB{}
	a := newTestValidation(&mockCloudWatch{}, elbMock)
	ctx := context.Background()

	elbMock.On("DescribeTargetHealth", ctx, mock.Anything).Return(targetHealthOutput(
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumHealthy,
		elbv2types.TargetHealthStateEnumUnhealthy,
	), nil)

	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		TargetGroupARN:      tgARN,
		Window:              25 * time.Millisecond,
		MaxUnhealthyTargets: 1,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Passed)
	elbMock.AssertExpectations(t)
}

func TestValidation_MonitorValidation_ChecksUnavailable(t *testing.T) {
	// Three consecutive cycles without a reading fail the window; a version
	// that cannot be observed cannot be trusted.
	cwMock := &mockCloudWatch{}
	a := newTestValidation(cwMock, &mockELB{})
	ctx := context.Background()

	cwMock.On("DescribeAlarms", ctx, mock.Anything).Return(nil, errors.New("throttled"))

	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		Window:     10 * time.Second,
		AlarmNames: []string{"app-5xx-rate"},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Contains(t, outcome.Reason, "checks unavailable for 3 cycles")
	cwMock.AssertExpectations(t)
}

func TestValidation_MonitorValidation_CheckErrorRecovery(t *testing.T) {
	cwMock := &mockCloudWatch{}
	a := newTestValidation(cwMock, &mockELB{})
	ctx := context.Background()

	cwMock.On("DescribeAlarms", ctx, mock.Anything).Return(nil, errors.New("throttled")).Times(2)
	cwMock.On("DescribeAlarms", ctx, mock.Anything).Return(
		alarmsOutput(cwtypes.StateValueOk, "app-5xx-rate"), nil)

	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		Window:     25 * time.Millisecond,
		AlarmNames: []string{"app-5xx-rate"},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Passed)
	cwMock.AssertExpectations(t)
}

func TestValidation_MonitorValidation_CompositeAlarmTrips(t *testing.T) {
	cwMock := &mockCloudWatch{}
	a := newTestValidation(cwMock, &mockELB{})
	ctx := context.Background()

	cwMock.On("DescribeAlarms", ctx, mock.Anything).Return(&cloudwatch.DescribeAlarmsOutput{
		CompositeAlarms: []cwtypes.CompositeAlarm{{
			AlarmName:  aws.String("app-slo-breach"),
			StateValue: cwtypes.StateValueAlarm,
		}},
	}, nil)

	outcome, err := a.MonitorValidation(ctx, MonitorValidationParams{
		Window:     10 * time.Second,
		AlarmNames: []string{"app-slo-breach"},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Contains(t, outcome.Reason, "app-slo-breach is in ALARM")
	cwMock.AssertExpectations(t)
}

// ---------- interval ----------

func TestValidation_Interval(t *testing.T) {
	a := NewValidation(&mockCloudWatch{}, &mockELB{}, zerolog.Nop())

	assert.Equal(t, 10*time.Second, a.interval(10*time.Minute))
	assert.Equal(t, 5*time.Second, a.interval(5*time.Minute))
	assert.Equal(t, time.Second, a.interval(30*time.Second))
	assert.Equal(t, 10*time.Second, a.interval(2*time.Hour))

	a.pollInterval = 2 * time.Second
	assert.Equal(t, 2*time.Second, a.interval(10*time.Minute))
}
