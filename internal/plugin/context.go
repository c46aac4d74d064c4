package plugin

import "context"

type runIDKeyType struct{}

var runIDKey = runIDKeyType{}

// WithRunID returns a context carrying the id of the current run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run id, or "" outside of a run.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}
