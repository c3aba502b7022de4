package model

import "time"

// DeploymentPlan is the immutable input to one deployment run. It is built
// once (from a plan file or an API request), validated, and passed by value
// through every workflow and activity call; nothing mutates it afterwards.
type DeploymentPlan struct {
	// ActiveGroup currently serves production traffic; StandbyGroup receives
	// the new image. The pair also keys the per-target deployment lease.
	ActiveGroup  string `json:"active_group" yaml:"active_group" validate:"required"`
	StandbyGroup string `json:"standby_group" yaml:"standby_group" validate:"required,nefield=ActiveGroup"`

	// ImageID is the AMI the standby group is rolled onto.
	ImageID string `json:"image_id" yaml:"image_id" validate:"required,startswith=ami-"`

	DesiredCapacity int32 `json:"desired_capacity" yaml:"desired_capacity" validate:"min=1"`
	MinSize         int32 `json:"min_size" yaml:"min_size" validate:"min=0,ltefield=DesiredCapacity"`
	MaxSize         int32 `json:"max_size" yaml:"max_size" validate:"min=1,gtefield=DesiredCapacity"`

	// MainTargetGroupARN receives unrestricted production traffic.
	// SyntheticTargetGroupARN is reachable only through the header-routed
	// listener rule used for isolated validation.
	MainTargetGroupARN      string `json:"main_target_group_arn" yaml:"main_target_group_arn" validate:"required"`
	SyntheticTargetGroupARN string `json:"synthetic_target_group_arn" yaml:"synthetic_target_group_arn" validate:"required,nefield=MainTargetGroupARN"`

	// RollbackWindow bounds the post-cutover validation period during which
	// a failing check reverses the deployment automatically.
	RollbackWindow time.Duration `json:"rollback_window" yaml:"rollback_window" validate:"required,min=1m"`

	// SteadyStateTimeout bounds how long the standby rollout may take to
	// reach steady state before the deployment aborts.
	SteadyStateTimeout time.Duration `json:"steady_state_timeout" yaml:"steady_state_timeout" validate:"required,min=1m"`

	Refresh    RefreshPreferences `json:"refresh" yaml:"refresh"`
	Synthetic  SyntheticConfig    `json:"synthetic" yaml:"synthetic"`
	Validation ValidationConfig   `json:"validation" yaml:"validation"`
}

// RefreshPreferences tune the instance refresh that rolls the standby group
// onto the new launch template version.
type RefreshPreferences struct {
	MinHealthyPercentage int32 `json:"min_healthy_percentage" yaml:"min_healthy_percentage" validate:"min=0,max=100"`
	MaxHealthyPercentage int32 `json:"max_healthy_percentage" yaml:"max_healthy_percentage" validate:"min=100,max=200"`
	InstanceWarmupSec    int32 `json:"instance_warmup_sec" yaml:"instance_warmup_sec" validate:"min=0"`
	// SkipMatching leaves instances already on the target version untouched.
	SkipMatching bool `json:"skip_matching" yaml:"skip_matching"`
}

// SyntheticConfig describes the isolated validation traffic sent to the
// standby group before cutover. Every probe request carries HeaderName:
// HeaderValue, which the load balancer's out-of-band listener rule routes to
// the synthetic target group.
type SyntheticConfig struct {
	Endpoint    string        `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	HeaderName  string        `json:"header_name" yaml:"header_name" validate:"required"`
	HeaderValue string        `json:"header_value" yaml:"header_value" validate:"required"`
	Paths       []string      `json:"paths" yaml:"paths" validate:"required,min=1,dive,startswith=/"`
	Attempts    int           `json:"attempts" yaml:"attempts" validate:"min=1"`
	Concurrency int           `json:"concurrency" yaml:"concurrency" validate:"min=1"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" validate:"required"`
}

// ValidationConfig describes the continuous checks run during the rollback
// window after production traffic has shifted to the standby group.
type ValidationConfig struct {
	// AlarmNames are CloudWatch alarms; any alarm in ALARM state fails the
	// window immediately.
	AlarmNames []string `json:"alarm_names" yaml:"alarm_names"`
	// MaxUnhealthyTargets is the number of unhealthy targets tolerated in
	// the main target group before the window fails.
	MaxUnhealthyTargets int `json:"max_unhealthy_targets" yaml:"max_unhealthy_targets" validate:"min=0"`
}

// LeaseID returns the workflow identifier that serializes deployments on a
// group pair. Starting a second run against the same pair while one is in
// flight fails at start time.
func (p DeploymentPlan) LeaseID() string {
	return "deploy-" + p.ActiveGroup + "-" + p.StandbyGroup
}

// Plan defaults. A zero value in the corresponding field means unset and is
// replaced before validation.
const (
	DefaultMinHealthyPercentage = 90
	DefaultMaxHealthyPercentage = 110
	DefaultInstanceWarmupSec    = 60
	DefaultSyntheticHeaderName  = "X-Validation"
	DefaultSyntheticAttempts    = 1
	DefaultSyntheticConcurrency = 1
	DefaultSyntheticTimeout     = 5 * time.Second
)

// ApplyDefaults fills unset optional fields. It runs before validation on
// every path that builds a plan, so plans loaded from a file and plans posted
// over the API behave identically.
func (p *DeploymentPlan) ApplyDefaults() {
	if p.Refresh.MinHealthyPercentage == 0 {
		p.Refresh.MinHealthyPercentage = DefaultMinHealthyPercentage
	}
	if p.Refresh.MaxHealthyPercentage == 0 {
		p.Refresh.MaxHealthyPercentage = DefaultMaxHealthyPercentage
	}
	if p.Refresh.InstanceWarmupSec == 0 {
		p.Refresh.InstanceWarmupSec = DefaultInstanceWarmupSec
	}
	if p.Synthetic.HeaderName == "" {
		p.Synthetic.HeaderName = DefaultSyntheticHeaderName
	}
	if p.Synthetic.Attempts == 0 {
		p.Synthetic.Attempts = DefaultSyntheticAttempts
	}
	if p.Synthetic.Concurrency == 0 {
		p.Synthetic.Concurrency = DefaultSyntheticConcurrency
	}
	if p.Synthetic.Timeout == 0 {
		p.Synthetic.Timeout = DefaultSyntheticTimeout
	}
}
