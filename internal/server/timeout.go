package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds a request's context. Handlers are expected to
// observe ctx.Done(); nothing is forcibly terminated. Not mounted on the
// websocket route, which is long-lived.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
