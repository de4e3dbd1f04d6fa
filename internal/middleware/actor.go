package middleware

import (
	"context"
	"net/http"

	"github.com/taskledger/taskledger/internal/domain/event"
)

const headerActor = "X-Actor"

type actorCtxKey struct{}

// Actor is middleware that reads the X-Actor header and stores the
// attributed actor in the request context. Unknown or missing values
// fall back to ActorUser: external callers are humans unless they say
// otherwise.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := event.Actor(r.Header.Get(headerActor))
		switch actor {
		case event.ActorUser, event.ActorAgent, event.ActorSystem:
		default:
			actor = event.ActorUser
		}
		ctx := context.WithValue(r.Context(), actorCtxKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the actor stored in ctx, or ActorUser if absent.
func ActorFromContext(ctx context.Context) event.Actor {
	if a, ok := ctx.Value(actorCtxKey{}).(event.Actor); ok {
		return a
	}
	return event.ActorUser
}
