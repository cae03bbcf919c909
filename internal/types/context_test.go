package types

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-abc123")
	if got := GetRequestID(ctx); got != "req-abc123" {
		t.Errorf("GetRequestID = %q, want req-abc123", got)
	}
}

func TestJobRunIDRoundTrip(t *testing.T) {
	ctx := WithJobRunID(context.Background(), "42")
	if got := GetJobRunID(ctx); got != "42" {
		t.Errorf("GetJobRunID = %q, want 42", got)
	}
}

func TestContextValuesDoNotCollide(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithJobRunID(ctx, "run-7")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID = %q after setting job run ID", got)
	}
	if got := GetJobRunID(ctx); got != "run-7" {
		t.Errorf("GetJobRunID = %q", got)
	}

	// A string key of the same value does not alias the typed key.
	shadow := context.WithValue(context.Background(), "request_id", "spoofed") //nolint:staticcheck
	if got := GetRequestID(shadow); got != "" {
		t.Errorf("GetRequestID read a plain string key: %q", got)
	}
}
