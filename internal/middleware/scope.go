package middleware

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/shortstat/shortstat/internal/auth"
	"github.com/shortstat/shortstat/internal/model"
)

// RequireScope gates a route on key scopes. It must sit inside Auth.
// A key holding any one of the required scopes passes; admin passes
// everything.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				writeScopeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			if !scopesSatisfy(authCtx.Scopes, required) {
				writeScopeError(w, http.StatusForbidden, "FORBIDDEN",
					fmt.Sprintf("Insufficient permissions. Required scope: %s", required[0]))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func scopesSatisfy(held, required []string) bool {
	if slices.Contains(held, model.ScopeAdmin) {
		return true
	}
	return slices.ContainsFunc(required, func(scope string) bool {
		return slices.Contains(held, scope)
	})
}

// RequireRead gates a route on the read scope.
func RequireRead() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeRead)
}

// RequireWrite gates a route on the write scope.
func RequireWrite() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeWrite)
}

// RequireAdmin gates a route on the admin scope.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeAdmin)
}

func writeScopeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"code":%q}`, message, code)
}
