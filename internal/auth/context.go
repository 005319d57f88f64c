// ABOUTME: Request-scoped identity carried from the bearer middleware to handlers
// ABOUTME: Provides WithIdentity/FromContext; handlers receive the Identity as an argument

package auth

import (
	"context"
)

// identityKey is the key type for storing an Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from ctx. ok is false for anonymous requests.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
