// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:not_found", "plugin:execution_failed").
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"

	// Resource errors
	CodeNotFound = "core:not_found"

	// Rate limiting
	CodeRateLimited = "core:rate_limited"

	// Server errors
	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"
)

// Plugin pipeline error codes
const (
	CodeExecutionFailed  = "plugin:execution_failed"
	CodeExecutionTimeout = "plugin:execution_timeout"
	CodeRetryExhausted   = "plugin:retry_exhausted"
)

// coreErrors defines all core error codes with their default messages and HTTP status
var coreErrors = []ErrorCode{
	// Request errors
	{Code: CodeInvalidRequest, Message: "Invalid request", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},

	// Resource errors
	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},

	// Rate limiting
	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},

	// Server errors
	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},
}

// pluginErrors enumerates the plugin namespace without its prefix.
type pluginErrors struct{}

func (pluginErrors) EnumerateErrors() []ErrorCode {
	return []ErrorCode{
		{Code: "execution_failed", Message: "Plugin execution failed", HTTPStatus: http.StatusBadGateway},
		{Code: "execution_timeout", Message: "Plugin execution timed out", HTTPStatus: http.StatusGatewayTimeout},
		{Code: "retry_exhausted", Message: "Plugin load failed after all retries", HTTPStatus: http.StatusBadGateway},
	}
}

func init() {
	// Register all core error codes
	for _, e := range coreErrors {
		Registry.Register(e)
	}
	Registry.RegisterNamespace("plugin", pluginErrors{})
}
