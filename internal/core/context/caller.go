// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// AuthKind tells how the caller was identified.
type AuthKind string

const (
	// AuthAPIKey marks callers resolved from an API key (POS terminals, ERPs).
	AuthAPIKey AuthKind = "api_key"
	// AuthSession marks interactive callers holding a JWT session.
	AuthSession AuthKind = "session"
)

// CallerContext contains the resolved identity of the requester.
// Allocation and administration code only ever sees the owning user ID;
// how the credential was verified stays in the transport layer.
type CallerContext struct {
	UserID   string
	Email    string
	AuthKind AuthKind
	IsAdmin  bool
}

type callerContextKey struct{}

// WithCaller adds CallerContext to context.
func WithCaller(ctx context.Context, caller *CallerContext) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// GetCaller returns CallerContext from context.
func GetCaller(ctx context.Context) *CallerContext {
	if v, ok := ctx.Value(callerContextKey{}).(*CallerContext); ok {
		return v
	}
	return nil
}

// GetUserID returns the owning user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if c := GetCaller(ctx); c != nil {
		return c.UserID
	}
	return ""
}

// IsAPIKeyCaller reports whether the request was authorized via API key.
func IsAPIKeyCaller(ctx context.Context) bool {
	c := GetCaller(ctx)
	return c != nil && c.AuthKind == AuthAPIKey
}
