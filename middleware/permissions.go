package middleware

import (
	"net/http"
	"slices"
)

// RequirePermission admits requests whose access token carries code. It must
// run after [RequireSession]. The check reads the token claims, so grants
// removed after the token was issued apply from the next refresh.
func RequirePermission(code string) func(http.Handler) http.Handler {
	return requireClaim(func(perms, _ []string) bool {
		return slices.Contains(perms, code)
	})
}

// RequireRole is [RequirePermission] for role codes.
func RequireRole(code string) func(http.Handler) http.Handler {
	return requireClaim(func(_, roles []string) bool {
		return slices.Contains(roles, code)
	})
}

func requireClaim(allow func(perms, roles []string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allow(claims.Permissions, claims.Roles) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
