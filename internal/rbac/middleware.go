package rbac

import (
	"net/http"
)

var hubPolicy = NewPolicy(nil)

func forbidden(w http.ResponseWriter) {
	http.Error(w, "forbidden", http.StatusForbidden)
}

// Require rejects callers whose role lacks perm.
func Require(perm string) func(http.Handler) http.Handler {
	return RequireScoped(perm, nil)
}

// RequireScoped enforces perm and, for every role but admin, that inScope
// accepts the request, e.g. the session course matches the course in the
// URL. A nil inScope accepts everything.
func RequireScoped(perm string, inScope func(r *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if !hubPolicy.Allows(role, perm) {
				forbidden(w)
				return
			}
			if inScope != nil && role != RoleAdmin && !inScope(r) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
