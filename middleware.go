package dedicated

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the header ScopeMiddleware reads correlation IDs from.
const RequestIDHeader = "X-Request-ID"

// ScopeMiddleware runs every request in its own ScopeContext and ends the
// scope once the handler returns, closing the dedicated connections
// resolved while serving the request.
//
// Scope IDs are always generated, so requests reusing an X-Request-ID never
// share connections. A client supplied ID is appended as "<uuid>/<header>"
// for correlation in logs and registry keys.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := NewScopeContext(r.Context(), requestScopeID(r))
		defer scope.End()

		next.ServeHTTP(w, r.WithContext(scope))
	})
}

func requestScopeID(r *http.Request) string {
	id := uuid.NewString()
	if header := r.Header.Get(RequestIDHeader); header != "" {
		id += "/" + header
	}
	return id
}
