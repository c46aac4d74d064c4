package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a source that could not be read: transport
	// failure, fetch timeout, non-2xx status or a malformed envelope. The
	// loader skips such sources and continues the run.
	ErrSourceUnavailable = errors.New("plugin source unavailable")

	// ErrExecutionFailed marks a payload that failed to compile or threw.
	ErrExecutionFailed = errors.New("plugin execution failed")

	// ErrExecutionTimeout marks a payload that did not finish in time.
	ErrExecutionTimeout = errors.New("plugin execution timed out")

	// ErrRetryExhausted marks a run that failed on every allotted attempt.
	ErrRetryExhausted = errors.New("plugin load retries exhausted")
)

// ExecutionError is returned by the sandbox for any failed execution.
// It matches ErrExecutionTimeout or ErrExecutionFailed and unwraps to the
// underlying cause.
type ExecutionError struct {
	Source  string
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	if e.Err == nil {
		return fmt.Sprintf("plugin %q: execution %s", e.Source, kind)
	}
	return fmt.Sprintf("plugin %q: execution %s: %v", e.Source, kind, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	sentinel := ErrExecutionFailed
	if e.Timeout {
		sentinel = ErrExecutionTimeout
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// RetryExhaustedError wraps the last failure of a run that used every attempt.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("plugin load failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}

// SourceError wraps a fetch failure for one source.
type SourceError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("source %q: unexpected status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSourceUnavailable}
	}
	return []error{ErrSourceUnavailable, e.Err}
}
