package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/server/auth"
)

type ctxKey int

const actorKey ctxKey = 0

// Actor is the verified identity attached to a request.
type Actor struct {
	ID   string
	Role string
}

// ActorFromContext returns the verified actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}

// RequireAuth verifies the bearer token and stores the actor identity in
// the request context.
func RequireAuth(secretKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			actorID, actorRole, err := auth.ActorFromToken(token, secretKey)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey, Actor{ID: actorID, Role: actorRole})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole limits a route to specific actor roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[actor.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowedWriter reports whether the actor may submit an event. Patients
// write only their own events; investigators and imports write on behalf
// of their own identity too, just under a different role.
func allowedWriter(actor Actor, e *event.Event) bool {
	return e.ActorID == actor.ID && e.ActorRole == actor.Role
}
