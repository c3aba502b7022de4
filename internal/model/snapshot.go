package model

// Instance lifecycle states as observed from the scaling group. Only the
// states the orchestrator branches on are named; anything else is carried
// through verbatim.
const (
	LifecyclePending     = "Pending"
	LifecycleInService   = "InService"
	LifecycleStandby     = "Standby"
	LifecycleTerminating = "Terminating"
)

// InstanceSnapshot is the observed state of one instance at poll time.
type InstanceSnapshot struct {
	ID                    string `json:"id"`
	LifecycleState        string `json:"lifecycle_state"`
	LaunchTemplateVersion string `json:"launch_template_version"`
	HealthStatus          string `json:"health_status"`
}

// ScalingGroupSnapshot is a point-in-time projection of one scaling group.
// It is refreshed on every poll cycle and never cached across cycles.
type ScalingGroupSnapshot struct {
	Name                  string             `json:"name"`
	LaunchTemplateID      string             `json:"launch_template_id"`
	LaunchTemplateVersion string             `json:"launch_template_version"`
	ImageID               string             `json:"image_id"`
	DesiredCapacity       int32              `json:"desired_capacity"`
	MinSize               int32              `json:"min_size"`
	MaxSize               int32              `json:"max_size"`
	Instances             []InstanceSnapshot `json:"instances"`
	TargetGroupARNs       []string           `json:"target_group_arns"`
}

// InServiceCount returns how many instances are currently in service.
func (s ScalingGroupSnapshot) InServiceCount() int {
	n := 0
	for _, inst := range s.Instances {
		if inst.LifecycleState == LifecycleInService {
			n++
		}
	}
	return n
}

// AttachedTo reports whether the group is attached to the given target group.
func (s ScalingGroupSnapshot) AttachedTo(targetGroupARN string) bool {
	for _, arn := range s.TargetGroupARNs {
		if arn == targetGroupARN {
			return true
		}
	}
	return false
}

// VersionToken identifies the launch template version and instance refresh
// applied by UpdateVersionAndCapacity. WaitForSteadyState correlates its
// polling against this token; tokens are never reused across runs.
type VersionToken struct {
	LaunchTemplateID      string `json:"launch_template_id"`
	LaunchTemplateVersion string `json:"launch_template_version"`
	InstanceRefreshID     string `json:"instance_refresh_id"`
}
