package shared

import (
	"context"

	"github.com/google/uuid"
)

type taskIDKey struct{}
type invocationKey struct{}

// WithTaskID attaches the owning task/session id to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskID extracts the task id from context. Returns "" if absent.
func TaskID(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithInvocationToken attaches a per-hook-invocation token to the context.
func WithInvocationToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, invocationKey{}, token)
}

// InvocationToken extracts the invocation token. Returns "-" if absent.
func InvocationToken(ctx context.Context) string {
	if v, ok := ctx.Value(invocationKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewInvocationToken generates a strictly unique per-invocation token.
func NewInvocationToken() string {
	return uuid.NewString()
}
