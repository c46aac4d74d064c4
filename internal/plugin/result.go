package plugin

import "time"

// Status is the outcome of one orchestrator run.
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result messages returned to callers of a run.
const (
	MessageDisabled = "Plugin system disabled"
	MessageLoaded   = "Server plugins loaded successfully"
)

// TimestampFormat is ISO-8601 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// LoadResult is produced once per run and handed to the caller. It is never
// cached or compared against an earlier run.
type LoadResult struct {
	Status         Status `json:"status" yaml:"status"`
	Message        string `json:"message" yaml:"message"`
	Timestamp      string `json:"timestamp" yaml:"timestamp"`
	SourcesChecked int    `json:"sourcesChecked" yaml:"sourcesChecked"`
}

// Skipped builds the result of a run against a disabled plugin system.
func Skipped(now time.Time) *LoadResult {
	return &LoadResult{
		Status:    StatusSkipped,
		Message:   MessageDisabled,
		Timestamp: now.UTC().Format(TimestampFormat),
	}
}

// Succeeded builds the result of a run that completed every source.
func Succeeded(now time.Time, sourcesChecked int) *LoadResult {
	return &LoadResult{
		Status:         StatusSuccess,
		Message:        MessageLoaded,
		Timestamp:      now.UTC().Format(TimestampFormat),
		SourcesChecked: sourcesChecked,
	}
}
