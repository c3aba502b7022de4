package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edvin/cutover/internal/model"
)

var planValidate = validator.New()

// planFile mirrors model.DeploymentPlan with string durations so plan files
// can say "30m" instead of nanosecond counts.
type planFile struct {
	ActiveGroup             string `yaml:"active_group"`
	StandbyGroup            string `yaml:"standby_group"`
	ImageID                 string `yaml:"image_id"`
	DesiredCapacity         int32  `yaml:"desired_capacity"`
	MinSize                 int32  `yaml:"min_size"`
	MaxSize                 int32  `yaml:"max_size"`
	MainTargetGroupARN      string `yaml:"main_target_group_arn"`
	SyntheticTargetGroupARN string `yaml:"synthetic_target_group_arn"`
	RollbackWindow          string `yaml:"rollback_window"`
	SteadyStateTimeout      string `yaml:"steady_state_timeout"`

	Refresh struct {
		MinHealthyPercentage int32 `yaml:"min_healthy_percentage"`
		MaxHealthyPercentage int32 `yaml:"max_healthy_percentage"`
		InstanceWarmupSec    int32 `yaml:"instance_warmup_sec"`
		SkipMatching         bool  `yaml:"skip_matching"`
	} `yaml:"refresh"`

	Synthetic struct {
		Endpoint    string   `yaml:"endpoint"`
		HeaderName  string   `yaml:"header_name"`
		HeaderValue string   `yaml:"header_value"`
		Paths       []string `yaml:"paths"`
		Attempts    int      `yaml:"attempts"`
		Concurrency int      `yaml:"concurrency"`
		Timeout     string   `yaml:"timeout"`
	} `yaml:"synthetic"`

	Validation struct {
		AlarmNames          []string `yaml:"alarm_names"`
		MaxUnhealthyTargets int      `yaml:"max_unhealthy_targets"`
	} `yaml:"validation"`
}

// LoadPlan reads a deployment plan from a YAML file, applies defaults, and
// validates it. The returned plan is ready to hand to the workflow starter.
func LoadPlan(path string) (model.DeploymentPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DeploymentPlan{}, fmt.Errorf("read plan file: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return model.DeploymentPlan{}, fmt.Errorf("parse plan file %s: %w", path, err)
	}

	plan := model.DeploymentPlan{
		ActiveGroup:             pf.ActiveGroup,
		StandbyGroup:            pf.StandbyGroup,
		ImageID:                 pf.ImageID,
		DesiredCapacity:         pf.DesiredCapacity,
		MinSize:                 pf.MinSize,
		MaxSize:                 pf.MaxSize,
		MainTargetGroupARN:      pf.MainTargetGroupARN,
		SyntheticTargetGroupARN: pf.SyntheticTargetGroupARN,
		Refresh: model.RefreshPreferences{
			MinHealthyPercentage: pf.Refresh.MinHealthyPercentage,
			MaxHealthyPercentage: pf.Refresh.MaxHealthyPercentage,
			InstanceWarmupSec:    pf.Refresh.InstanceWarmupSec,
			SkipMatching:         pf.Refresh.SkipMatching,
		},
		Synthetic: model.SyntheticConfig{
			Endpoint:    pf.Synthetic.Endpoint,
			HeaderName:  pf.Synthetic.HeaderName,
			HeaderValue: pf.Synthetic.HeaderValue,
			Paths:       pf.Synthetic.Paths,
			Attempts:    pf.Synthetic.Attempts,
			Concurrency: pf.Synthetic.Concurrency,
		},
		Validation: model.ValidationConfig{
			AlarmNames:          pf.Validation.AlarmNames,
			MaxUnhealthyTargets: pf.Validation.MaxUnhealthyTargets,
		},
	}

	if plan.RollbackWindow, err = parsePlanDuration("rollback_window", pf.RollbackWindow); err != nil {
		return model.DeploymentPlan{}, err
	}
	if plan.SteadyStateTimeout, err = parsePlanDuration("steady_state_timeout", pf.SteadyStateTimeout); err != nil {
		return model.DeploymentPlan{}, err
	}
	if pf.Synthetic.Timeout != "" {
		if plan.Synthetic.Timeout, err = parsePlanDuration("synthetic.timeout", pf.Synthetic.Timeout); err != nil {
			return model.DeploymentPlan{}, err
		}
	}

	plan.ApplyDefaults()

	if err := planValidate.Struct(plan); err != nil {
		return model.DeploymentPlan{}, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return plan, nil
}

func parsePlanDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid plan: %s is required", field)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid plan: %s: %q is not a duration", field, value)
	}
	return d, nil
}
