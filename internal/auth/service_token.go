package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/rbac"
)

// TokenVerifier checks a grader service token issued for a course.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, courseID, token string) (bool, error)
}

func serviceToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "token ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "token "))
}

// ServiceOrSession accepts "Authorization: token <t>" from a course's
// grader service, falling back to the session Middleware otherwise. A
// verified service token runs with the admin role as grader-{course}.
func ServiceOrSession(s *SessionService, v TokenVerifier, courseOf func(r *http.Request) string) func(http.Handler) http.Handler {
	session := Middleware(s)
	return func(next http.Handler) http.Handler {
		fallback := session(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := serviceToken(r)
			if tok == "" || v == nil {
				fallback.ServeHTTP(w, r)
				return
			}
			course := courseOf(r)
			ok, err := v.VerifyToken(r.Context(), course, tok)
			if err != nil {
				logger.C(r.Context()).Error().Err(err).Str("course", course).Msg("service token check failed")
				http.Error(w, "server error", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := WithSubject(r.Context(), "grader-"+course)
			ctx = rbac.WithRole(ctx, rbac.RoleAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
