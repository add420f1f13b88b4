package questline

import (
	"context"

	"github.com/questline/questline-go/internal/actor"
)

// WithActor tags the context with the identity performing the call. The store
// records it on validation-bypass audit entries and repair/restore log lines;
// untagged contexts are recorded as "unknown".
func WithActor(ctx context.Context, name string) context.Context {
	return actor.WithActor(ctx, name)
}

// ActorFrom extracts the actor identity previously attached with WithActor.
func ActorFrom(ctx context.Context) (string, bool) {
	return actor.From(ctx)
}

func actorOrUnknown(ctx context.Context) string {
	if a, ok := actor.From(ctx); ok && a != "" {
		return a
	}
	return "unknown"
}
