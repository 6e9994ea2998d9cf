package middleware

import (
	"context"
	"net/http"
	"strings"

	"go-docspace/internal/model"
)

type tokenValidator interface {
	Validate(tokenString string) (model.Actor, error)
}

type contextKey string

const actorContextKey contextKey = "actor"

type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth resolves the bearer token into an actor. Browsers cannot set
// headers on websocket upgrades, so the access_token query parameter is
// accepted as well.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeProblem(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid authorization header")
			return
		}

		actor, err := m.validator.Validate(token)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		actor.IP = extractClientIP(r)
		noteActor(r.Context(), actor)

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireUser rejects external share sessions.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeProblem(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		if actor.External != nil {
			writeProblem(w, http.StatusForbidden, "FORBIDDEN", "not available for share sessions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(model.Actor)
	return actor, ok
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func writeProblem(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}
