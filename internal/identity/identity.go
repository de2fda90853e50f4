// Package identity carries the acting user's id through request contexts.
// The id is recorded on sales for audit only.
package identity

import "context"

type callerKey struct{}

// Anonymous is recorded when no caller was attached.
const Anonymous = "anonymous"

// WithCaller returns a copy of ctx carrying the caller id.
func WithCaller(ctx context.Context, callerID string) context.Context {
	if callerID == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, callerID)
}

// FromContext returns the caller id and whether one was attached.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(callerKey{}).(string)
	return id, ok && id != ""
}

// CallerOr returns the attached caller id, or fallback.
func CallerOr(ctx context.Context, fallback string) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	return fallback
}
