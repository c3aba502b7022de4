package workflow

import (
	"context"
	"errors"

	sdkactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/cutover/internal/metrics"
)

// ErrorTypingInterceptor is a Temporal worker interceptor that types and
// counts activity failures. Errors that already carry a type (the deployment
// error kinds) pass through; anything untyped gets the activity name as its
// type so a failed call is identifiable in the Temporal UI instead of
// showing a generic ApplicationError.
type ErrorTypingInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ErrorTypingInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &errorTypingActivityInterceptor{next: next}
}

type errorTypingActivityInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (e *errorTypingActivityInterceptor) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return e.next.Init(outbound)
}

func (e *errorTypingActivityInterceptor) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := e.next.ExecuteActivity(ctx, in)
	if err == nil {
		return result, nil
	}

	actName := sdkactivity.GetInfo(ctx).ActivityType.Name

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		metrics.ActivityFailures.WithLabelValues(actName, appErr.Type()).Inc()
		return result, err
	}

	metrics.ActivityFailures.WithLabelValues(actName, "untyped").Inc()
	return result, temporal.NewApplicationError(err.Error(), actName, err)
}
