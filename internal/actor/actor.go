// Package actor carries caller identity through context so that
// security-sensitive operations (validation bypass, repair, restore) can be
// attributed in audit records.
package actor

import "context"

type ctxKey struct{}

// WithActor returns a child context tagged with the given actor identity.
func WithActor(parent context.Context, actor string) context.Context {
	return context.WithValue(parent, ctxKey{}, actor)
}

// From extracts the actor identity from context if present.
func From(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
