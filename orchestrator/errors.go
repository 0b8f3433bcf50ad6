package orchestrator

import (
	"errors"
	"fmt"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
)

// classifyExecuteError turns a raw execute-activity failure into an
// operator-actionable error. Timeout types matter: a schedule-to-start expiry
// means no runner ever polled the queue, which is a deployment or queue
// configuration problem rather than a failure of the work itself.
func classifyExecuteError(err error, runnerQueue string) error {
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		switch timeoutErr.TimeoutType() {
		case enums.TIMEOUT_TYPE_SCHEDULE_TO_START:
			return fmt.Errorf("no runner worker polled queue %q before dispatch deadline; check runner deployment and queue configuration: %w", runnerQueue, err)
		case enums.TIMEOUT_TYPE_START_TO_CLOSE:
			return fmt.Errorf("runner exceeded execution deadline on queue %q: %w", runnerQueue, err)
		case enums.TIMEOUT_TYPE_HEARTBEAT:
			return fmt.Errorf("runner on queue %q stopped heartbeating; worker likely crashed or lost connectivity: %w", runnerQueue, err)
		default:
			return fmt.Errorf("runner activity timed out on queue %q: %w", runnerQueue, err)
		}
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return fmt.Errorf("execution failed: %s: %w", appErr.Message(), err)
	}

	var canceledErr *temporal.CanceledError
	if errors.As(err, &canceledErr) {
		return fmt.Errorf("execution canceled: %w", err)
	}

	return fmt.Errorf("execution failed: %w", err)
}
