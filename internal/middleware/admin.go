package middleware

import (
	"net/http"

	"github.com/llmportal/orchestrator/internal/auth"
	"github.com/llmportal/orchestrator/internal/policy"
)

// RequireAdmin rejects callers outside the admin group.
// It must be applied after Authenticate.
func RequireAdmin(p policy.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w)
				return
			}
			if !p.IsAdmin(identity) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Admin group membership required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePluginAccess rejects callers that are neither in the allowed group
// nor admins. Unlike Provision it creates nothing upstream.
// It must be applied after Authenticate.
func RequirePluginAccess(p policy.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w)
				return
			}
			if !p.CanUsePlugin(identity) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not allowed to use this API")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
