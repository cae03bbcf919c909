package types

import (
	"context"
)

// Context Keys
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobRunIDKey  contextKey = "job_run_id"
)

// WithRequestID stores the request ID in the context. Set by the ops API
// middleware; propagated to outbound provider calls as a trace header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithJobRunID stores the current job invocation's run ID in the context so
// that log entries and provider calls made during the run can be correlated.
func WithJobRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobRunIDKey, id)
}

// GetJobRunID retrieves the job run ID from the context.
func GetJobRunID(ctx context.Context) string {
	id, _ := ctx.Value(jobRunIDKey).(string)
	return id
}
