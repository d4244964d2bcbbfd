package auth

import (
	"context"
	"errors"
)

type contextKey string

const actorKey contextKey = "actor"

// ErrNoActor is returned when a handler runs without auth middleware.
var ErrNoActor = errors.New("no actor in context")

// WithActor attaches the authenticated Actor to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return a, nil
}
