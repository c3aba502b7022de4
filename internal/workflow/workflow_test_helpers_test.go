package workflow

import (
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/cutover/internal/activity"
	"github.com/edvin/cutover/internal/model"
)

const (
	testMainTG  = "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/app-main/1a2b3c4d5e6f"
	testSynthTG = "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/app-synthetic/6f5e4d3c2b1a"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized correctly
// by the Temporal test framework. In unit tests, all activities are mocked via
// OnActivity, but the framework still needs the type information for proper
// serialization/deserialization of activity parameters and return values.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.ASG{})
	env.RegisterActivity(&activity.TrafficGroup{})
	env.RegisterActivity(&activity.Synthetic{})
	env.RegisterActivity(&activity.Validation{})
	env.RegisterActivity(&activity.Audit{})
}

func testPlan() model.DeploymentPlan {
	return model.DeploymentPlan{
		ActiveGroup:             "app-blue",
		StandbyGroup:            "app-green",
		ImageID:                 "ami-0123456789abcdef0",
		DesiredCapacity:         3,
		MinSize:                 2,
		MaxSize:                 4,
		MainTargetGroupARN:      testMainTG,
		SyntheticTargetGroupARN: testSynthTG,
		RollbackWindow:          30 * time.Minute,
		SteadyStateTimeout:      20 * time.Minute,
		Refresh: model.RefreshPreferences{
			MinHealthyPercentage: 90,
			MaxHealthyPercentage: 110,
			InstanceWarmupSec:    60,
		},
		Synthetic: model.SyntheticConfig{
			Endpoint:    "https://lb.internal.example.com",
			HeaderName:  "X-Validation",
			HeaderValue: "deploy-1",
			Paths:       []string{"/healthz", "/version"},
			Attempts:    2,
			Concurrency: 2,
			Timeout:     5 * time.Second,
		},
		Validation: model.ValidationConfig{
			AlarmNames:          []string{"app-5xx-rate"},
			MaxUnhealthyTargets: 0,
		},
	}
}

func testDeployParams() model.DeployParams {
	return model.DeployParams{DeploymentID: "test-deploy-1", Plan: testPlan()}
}

// activeSnapshot is the active group as seen at preflight: attached to the
// main target group and serving at capacity.
func activeSnapshot() *model.ScalingGroupSnapshot {
	return &model.ScalingGroupSnapshot{
		Name:            "app-blue",
		DesiredCapacity: 3,
		MinSize:         2,
		MaxSize:         4,
		TargetGroupARNs: []string{testMainTG},
		Instances: []model.InstanceSnapshot{
			{ID: "i-blue1", LifecycleState: model.LifecycleInService, HealthStatus: "Healthy"},
			{ID: "i-blue2", LifecycleState: model.LifecycleInService, HealthStatus: "Healthy"},
			{ID: "i-blue3", LifecycleState: model.LifecycleInService, HealthStatus: "Healthy"},
		},
	}
}

// standbySnapshot is the standby group as seen at preflight: idle, detached
// from both target groups.
func standbySnapshot() *model.ScalingGroupSnapshot {
	return &model.ScalingGroupSnapshot{
		Name:            "app-green",
		DesiredCapacity: 0,
		MaxSize:         4,
	}
}

// updatedStandbySnapshot is the standby group after the rollout settled on the
// new version.
func updatedStandbySnapshot() *model.ScalingGroupSnapshot {
	return &model.ScalingGroupSnapshot{
		Name:                  "app-green",
		LaunchTemplateID:      "lt-0abc123",
		LaunchTemplateVersion: "7",
		ImageID:               "ami-0123456789abcdef0",
		DesiredCapacity:       3,
		MinSize:               2,
		MaxSize:               4,
		Instances: []model.InstanceSnapshot{
			{ID: "i-green1", LifecycleState: model.LifecycleInService, LaunchTemplateVersion: "7", HealthStatus: "Healthy"},
			{ID: "i-green2", LifecycleState: model.LifecycleInService, LaunchTemplateVersion: "7", HealthStatus: "Healthy"},
			{ID: "i-green3", LifecycleState: model.LifecycleInService, LaunchTemplateVersion: "7", HealthStatus: "Healthy"},
		},
	}
}

func testToken() *model.VersionToken {
	return &model.VersionToken{
		LaunchTemplateID:      "lt-0abc123",
		LaunchTemplateVersion: "7",
		InstanceRefreshID:     "refresh-0aaa111",
	}
}

// matchPhase returns a matcher for RecordPhaseParams with one specific phase.
// The detail string often embeds counts or durations that are not worth
// pinning in tests.
func matchPhase(phase model.Phase) interface{} {
	return mock.MatchedBy(func(params activity.RecordPhaseParams) bool {
		return params.Phase == phase
	})
}

// matchFinish returns a matcher for RecordFinishParams with the given final
// phase and status.
func matchFinish(phase model.Phase, status string) interface{} {
	return mock.MatchedBy(func(params activity.RecordFinishParams) bool {
		return params.Phase == phase && params.Status == status
	})
}
