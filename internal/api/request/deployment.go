package request

import (
	"fmt"
	"time"

	"github.com/edvin/cutover/internal/model"
)

// StartDeployment holds the request body for starting a blue/green
// deployment. Durations are strings in Go syntax ("30m", "90s").
type StartDeployment struct {
	ActiveGroup             string `json:"active_group" validate:"required"`
	StandbyGroup            string `json:"standby_group" validate:"required,nefield=ActiveGroup"`
	ImageID                 string `json:"image_id" validate:"required,startswith=ami-"`
	DesiredCapacity         int32  `json:"desired_capacity" validate:"required,min=1"`
	MinSize                 int32  `json:"min_size" validate:"min=0,ltefield=DesiredCapacity"`
	MaxSize                 int32  `json:"max_size" validate:"required,min=1,gtefield=DesiredCapacity"`
	MainTargetGroupARN      string `json:"main_target_group_arn" validate:"required"`
	SyntheticTargetGroupARN string `json:"synthetic_target_group_arn" validate:"required,nefield=MainTargetGroupARN"`
	RollbackWindow          string `json:"rollback_window" validate:"required"`
	SteadyStateTimeout      string `json:"steady_state_timeout" validate:"required"`

	Refresh    *RefreshSpec    `json:"refresh"`
	Synthetic  SyntheticSpec   `json:"synthetic"`
	Validation *ValidationSpec `json:"validation"`
}

// RefreshSpec tunes the standby instance refresh. Unset fields fall back to
// the plan defaults.
type RefreshSpec struct {
	MinHealthyPercentage *int32 `json:"min_healthy_percentage" validate:"omitempty,min=0,max=100"`
	MaxHealthyPercentage *int32 `json:"max_healthy_percentage" validate:"omitempty,min=100,max=200"`
	InstanceWarmupSec    *int32 `json:"instance_warmup_sec" validate:"omitempty,min=0"`
	SkipMatching         *bool  `json:"skip_matching"`
}

// SyntheticSpec describes the probe traffic sent to the standby group before
// cutover.
type SyntheticSpec struct {
	Endpoint    string   `json:"endpoint" validate:"required,url"`
	HeaderName  string   `json:"header_name"`
	HeaderValue string   `json:"header_value" validate:"required"`
	Paths       []string `json:"paths" validate:"required,min=1,dive,startswith=/"`
	Attempts    int      `json:"attempts" validate:"min=0"`
	Concurrency int      `json:"concurrency" validate:"min=0"`
	Timeout     string   `json:"timeout"`
}

// ValidationSpec describes the checks run during the rollback window.
type ValidationSpec struct {
	AlarmNames          []string `json:"alarm_names"`
	MaxUnhealthyTargets int      `json:"max_unhealthy_targets" validate:"min=0"`
}

// Plan converts the request into a deployment plan with defaults applied.
func (req StartDeployment) Plan() (model.DeploymentPlan, error) {
	rollbackWindow, err := parseWindow("rollback_window", req.RollbackWindow, time.Minute)
	if err != nil {
		return model.DeploymentPlan{}, err
	}
	steadyStateTimeout, err := parseWindow("steady_state_timeout", req.SteadyStateTimeout, time.Minute)
	if err != nil {
		return model.DeploymentPlan{}, err
	}

	plan := model.DeploymentPlan{
		ActiveGroup:             req.ActiveGroup,
		StandbyGroup:            req.StandbyGroup,
		ImageID:                 req.ImageID,
		DesiredCapacity:         req.DesiredCapacity,
		MinSize:                 req.MinSize,
		MaxSize:                 req.MaxSize,
		MainTargetGroupARN:      req.MainTargetGroupARN,
		SyntheticTargetGroupARN: req.SyntheticTargetGroupARN,
		RollbackWindow:          rollbackWindow,
		SteadyStateTimeout:      steadyStateTimeout,
		Synthetic: model.SyntheticConfig{
			Endpoint:    req.Synthetic.Endpoint,
			HeaderName:  req.Synthetic.HeaderName,
			HeaderValue: req.Synthetic.HeaderValue,
			Paths:       req.Synthetic.Paths,
			Attempts:    req.Synthetic.Attempts,
			Concurrency: req.Synthetic.Concurrency,
		},
	}

	if req.Synthetic.Timeout != "" {
		timeout, err := parseWindow("synthetic.timeout", req.Synthetic.Timeout, 0)
		if err != nil {
			return model.DeploymentPlan{}, err
		}
		plan.Synthetic.Timeout = timeout
	}

	if req.Refresh != nil {
		if req.Refresh.MinHealthyPercentage != nil {
			plan.Refresh.MinHealthyPercentage = *req.Refresh.MinHealthyPercentage
		}
		if req.Refresh.MaxHealthyPercentage != nil {
			plan.Refresh.MaxHealthyPercentage = *req.Refresh.MaxHealthyPercentage
		}
		if req.Refresh.InstanceWarmupSec != nil {
			plan.Refresh.InstanceWarmupSec = *req.Refresh.InstanceWarmupSec
		}
		if req.Refresh.SkipMatching != nil {
			plan.Refresh.SkipMatching = *req.Refresh.SkipMatching
		}
	}

	if req.Validation != nil {
		plan.Validation.AlarmNames = req.Validation.AlarmNames
		plan.Validation.MaxUnhealthyTargets = req.Validation.MaxUnhealthyTargets
	}

	plan.ApplyDefaults()
	return plan, nil
}

// RollbackDeployment holds the request body for forcing a rollback.
type RollbackDeployment struct {
	Reason string `json:"reason" validate:"max=500"`
}

func parseWindow(field, value string, min time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not a duration", field, value)
	}
	if d < min {
		return 0, fmt.Errorf("invalid %s: must be at least %s", field, min)
	}
	return d, nil
}
