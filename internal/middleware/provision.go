package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/llmportal/orchestrator/internal/auth"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/service"
)

// Provisioner makes sure the caller may use the API and owns an upstream account.
type Provisioner interface {
	EnsureExistsAndAuthorized(ctx context.Context, caller model.Identity) error
}

// Provision runs lazy account provisioning for every request.
// It must be applied after Authenticate.
func Provision(logger *slog.Logger, provisioner Provisioner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w)
				return
			}

			err := provisioner.EnsureExistsAndAuthorized(r.Context(), identity)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, service.ErrNotAllowed):
				writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not allowed to use this API")
			case errors.Is(err, service.ErrUnauthenticated):
				writeAuthError(w)
			default:
				logger.Error("account provisioning failed",
					slog.String("caller", identity.EntityRef),
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not provision the caller's account")
			}
		})
	}
}
