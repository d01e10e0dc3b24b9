package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// Require ensures the current principal's role holds the capability.
func (m Middleware) Require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := shared.PrincipalFromContext(r.Context())
			if p == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			role, err := ParseRole(p.Role)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac parse role", slog.Int64("user_id", p.ID), slog.String("role", p.Role))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			if !Allowed(role, c) {
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
