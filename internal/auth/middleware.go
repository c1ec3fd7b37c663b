package auth

import (
	"net/http"
	"strings"

	"github.com/mind-engage/lti-hubsync/internal/lti"
	"github.com/mind-engage/lti-hubsync/internal/rbac"
)

// Middleware accepts the session cookie or a Bearer token and stores the
// subject, role and claims in the request context.
func Middleware(s *SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearer(r)
			if tok == "" {
				if c, err := r.Cookie(SessionCookieName); err == nil {
					tok = c.Value
				}
			}
			if tok == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			c, err := s.Parse(tok)
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := WithSubject(r.Context(), c.Sub)
			ctx = rbac.WithRole(ctx, c.Role)
			ctx = WithClaims(ctx, c)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// IdentityFromRequest returns the launch identity stored by Middleware.
func IdentityFromRequest(r *http.Request) (*lti.Identity, bool) {
	c, ok := ClaimsFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return c.Identity(), true
}
