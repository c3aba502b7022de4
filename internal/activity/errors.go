package activity

import (
	"errors"

	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/smithy-go"
	"go.temporal.io/sdk/temporal"
)

// Application error types surfaced to the deployment workflow. The workflow's
// retry policies treat TransientConflict as retryable; every other type fails
// the activity on first occurrence.
const (
	ErrTypeTransientConflict  = "TransientConflict"
	ErrTypeTimeout            = "Timeout"
	ErrTypeValidationFailure  = "ValidationFailure"
	ErrTypeRefreshFailed      = "RefreshFailed"
	ErrTypeConfigurationError = "ConfigurationError"
	ErrTypeFatal              = "Fatal"
)

// isTransientConflict reports whether err is a conflicting operation already
// in progress on the target group. These clear on their own; the caller's
// retry policy backs off and re-attempts.
func isTransientConflict(err error) bool {
	var (
		scalingInProgress *astypes.ScalingActivityInProgressFault
		refreshInProgress *astypes.InstanceRefreshInProgressFault
		contention        *astypes.ResourceContentionFault
	)
	if errors.As(err, &scalingInProgress) || errors.As(err, &refreshInProgress) || errors.As(err, &contention) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ScalingActivityInProgress", "InstanceRefreshInProgress", "ResourceContention":
			return true
		}
	}
	return false
}

// wrapAWS classifies a control-plane error. Conflicting in-progress
// operations stay retryable with type TransientConflict; anything else is
// fatal to the current attempt and propagates immediately.
func wrapAWS(op string, err error) error {
	if isTransientConflict(err) {
		return temporal.NewApplicationError(op+": "+err.Error(), ErrTypeTransientConflict, err)
	}
	return temporal.NewNonRetryableApplicationError(op+": "+err.Error(), ErrTypeFatal, err)
}
