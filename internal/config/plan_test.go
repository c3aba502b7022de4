package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlanYAML = `active_group: web-blue
standby_group: web-green
image_id: ami-0123456789abcdef0
desired_capacity: 4
min_size: 2
max_size: 8
main_target_group_arn: arn:aws:elasticloadbalancing:eu-north-1:123456789012:targetgroup/web-main/aaaa
synthetic_target_group_arn: arn:aws:elasticloadbalancing:eu-north-1:123456789012:targetgroup/web-synthetic/bbbb
rollback_window: 30m
steady_state_timeout: 45m
synthetic:
  endpoint: https://lb.example.com
  header_value: deploy-probe
  paths:
    - /healthz
    - /api/v1/status
`

func writePlanFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPlan_Valid(t *testing.T) {
	plan, err := LoadPlan(writePlanFile(t, validPlanYAML))
	require.NoError(t, err)

	assert.Equal(t, "web-blue", plan.ActiveGroup)
	assert.Equal(t, "web-green", plan.StandbyGroup)
	assert.Equal(t, "ami-0123456789abcdef0", plan.ImageID)
	assert.Equal(t, 30*time.Minute, plan.RollbackWindow)
	assert.Equal(t, 45*time.Minute, plan.SteadyStateTimeout)
	assert.Equal(t, "deploy-web-blue-web-green", plan.LeaseID())
}

func TestLoadPlan_AppliesDefaults(t *testing.T) {
	plan, err := LoadPlan(writePlanFile(t, validPlanYAML))
	require.NoError(t, err)

	assert.EqualValues(t, 90, plan.Refresh.MinHealthyPercentage)
	assert.EqualValues(t, 110, plan.Refresh.MaxHealthyPercentage)
	assert.EqualValues(t, 60, plan.Refresh.InstanceWarmupSec)
	assert.Equal(t, "X-Validation", plan.Synthetic.HeaderName)
	assert.Equal(t, 1, plan.Synthetic.Attempts)
	assert.Equal(t, 1, plan.Synthetic.Concurrency)
	assert.Equal(t, 5*time.Second, plan.Synthetic.Timeout)
}

func TestLoadPlan_ExplicitOverridesKept(t *testing.T) {
	yaml := validPlanYAML + `refresh:
  min_healthy_percentage: 50
  max_healthy_percentage: 150
  instance_warmup_sec: 120
  skip_matching: true
`
	plan, err := LoadPlan(writePlanFile(t, yaml))
	require.NoError(t, err)

	assert.EqualValues(t, 50, plan.Refresh.MinHealthyPercentage)
	assert.EqualValues(t, 150, plan.Refresh.MaxHealthyPercentage)
	assert.EqualValues(t, 120, plan.Refresh.InstanceWarmupSec)
	assert.True(t, plan.Refresh.SkipMatching)
}

func TestLoadPlan_MissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read plan file")
}

func TestLoadPlan_MalformedYAML(t *testing.T) {
	_, err := LoadPlan(writePlanFile(t, "active_group: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse plan file")
}

func TestLoadPlan_SameGroups(t *testing.T) {
	yaml := `active_group: web-blue
standby_group: web-blue
image_id: ami-0123456789abcdef0
desired_capacity: 4
min_size: 2
max_size: 8
main_target_group_arn: arn:main
synthetic_target_group_arn: arn:synthetic
rollback_window: 30m
steady_state_timeout: 45m
synthetic:
  endpoint: https://lb.example.com
  header_value: deploy-probe
  paths: [/healthz]
`
	_, err := LoadPlan(writePlanFile(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid plan")
}

func TestLoadPlan_BadDuration(t *testing.T) {
	yaml := `active_group: web-blue
standby_group: web-green
image_id: ami-0123456789abcdef0
desired_capacity: 4
max_size: 8
main_target_group_arn: arn:main
synthetic_target_group_arn: arn:synthetic
rollback_window: thirty-minutes
steady_state_timeout: 45m
`
	_, err := LoadPlan(writePlanFile(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a duration")
}

func TestLoadPlan_MissingRollbackWindow(t *testing.T) {
	yaml := `active_group: web-blue
standby_group: web-green
image_id: ami-0123456789abcdef0
desired_capacity: 4
max_size: 8
main_target_group_arn: arn:main
synthetic_target_group_arn: arn:synthetic
steady_state_timeout: 45m
`
	_, err := LoadPlan(writePlanFile(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback_window is required")
}
