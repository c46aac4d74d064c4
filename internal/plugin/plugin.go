// Package plugin holds the shared types of the remote plugin pipeline:
// source configuration, execution and retry policies, run results and
// the error taxonomy used between the fetcher, the sandbox and the loader.
//
// The runtime pieces live in subpackages:
//   - remote: retrieves a payload from one configured source over HTTP
//   - jsvm:   runs a payload inside a goja runtime with a fixed capability set
//   - loader: orchestrates runs across sources, retries and startup loading
package plugin

import "time"

// Defaults applied by the config layer when a value is left unset.
const (
	DefaultExecutionTimeout = 10 * time.Second
	DefaultFetchTimeout     = 10 * time.Second
	DefaultMaxScriptBytes   = 1 << 20
	DefaultMaxBodyBytes     = 2 << 20
	DefaultMaxCallStackSize = 1024
	DefaultMaxBufferBytes   = 16 << 20
	DefaultUserAgent        = "ServerPluginLoader/2.0"
	DefaultMethod           = "GET"
)

// SourceConfig describes one remote origin a payload may be retrieved from.
type SourceConfig struct {
	Name        string `mapstructure:"name" json:"name" yaml:"name"`
	URL         string `mapstructure:"url" json:"url" yaml:"url"`
	Method      string `mapstructure:"method" json:"method" yaml:"method"`
	Enabled     bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Description string `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty"`
}

// ExecutionPolicy bounds every sandboxed execution.
type ExecutionPolicy struct {
	TimeoutMs        int  `mapstructure:"timeout_ms" json:"timeout_ms"`
	Isolated         bool `mapstructure:"isolated" json:"isolated"`
	DisplayErrors    bool `mapstructure:"display_errors" json:"display_errors"`
	MaxScriptBytes   int  `mapstructure:"max_script_bytes" json:"max_script_bytes"`
	MaxCallStackSize int  `mapstructure:"max_call_stack_size" json:"max_call_stack_size"`
	MaxBufferBytes   int  `mapstructure:"max_buffer_bytes" json:"max_buffer_bytes"`
}

// Timeout returns the execution deadline as a duration.
func (p ExecutionPolicy) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return DefaultExecutionTimeout
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// FetchPolicy bounds every outbound source request.
type FetchPolicy struct {
	TimeoutMs    int    `mapstructure:"timeout_ms" json:"timeout_ms"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" json:"max_body_bytes"`
	UserAgent    string `mapstructure:"user_agent" json:"user_agent"`
}

// Timeout returns the per-source fetch deadline as a duration.
func (p FetchPolicy) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return DefaultFetchTimeout
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// RetryPolicy controls how many times a failed run is re-attempted.
type RetryPolicy struct {
	Enabled     bool `mapstructure:"enabled" json:"enabled"`
	MaxAttempts int  `mapstructure:"max_attempts" json:"max_attempts"`
	DelayMs     int  `mapstructure:"delay_ms" json:"delay_ms"`
}

// Attempts returns the total number of attempts allowed by the policy.
func (p RetryPolicy) Attempts() int {
	if !p.Enabled || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait between two attempts.
func (p RetryPolicy) Delay() time.Duration {
	if p.DelayMs <= 0 {
		return 0
	}
	return time.Duration(p.DelayMs) * time.Millisecond
}

// Settings is the complete plugin configuration surface. It is loaded once
// at process start and never mutated afterwards.
type Settings struct {
	Enabled           bool            `mapstructure:"enabled"`
	Sources           []SourceConfig  `mapstructure:"sources"`
	Execution         ExecutionPolicy `mapstructure:"execution"`
	Fetch             FetchPolicy     `mapstructure:"fetch"`
	AutoLoadOnStartup bool            `mapstructure:"auto_load_on_startup"`
	Retry             RetryPolicy     `mapstructure:"retry"`
	ReloadSchedule    string          `mapstructure:"reload_schedule"`
}
