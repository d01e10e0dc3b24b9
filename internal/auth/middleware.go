package auth

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Middleware authenticates requests with HTTP basic credentials.
func Middleware(svc *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="wms"`)
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			principal, err := svc.Authenticate(r.Context(), username, password)
			if err != nil {
				if logger != nil {
					logger.Warn("authentication failed", slog.String("username", username))
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="wms"`)
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}
