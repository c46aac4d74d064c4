package apierrors

import (
	"context"
	"errors"

	"github.com/goatkit/hotplug/internal/plugin"
)

// CodeFor maps a pipeline error to its registered code. Timeout is checked
// before failure so a timed-out run that exhausted its retries still reports
// the timeout.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeServiceUnavailable
	case errors.Is(err, plugin.ErrExecutionTimeout):
		return CodeExecutionTimeout
	case errors.Is(err, plugin.ErrExecutionFailed):
		return CodeExecutionFailed
	case errors.Is(err, plugin.ErrRetryExhausted):
		return CodeRetryExhausted
	default:
		return CodeInternalError
	}
}
