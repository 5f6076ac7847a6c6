// Package middleware provides HTTP middleware components.
package middleware

import (
	"net/http"
	"time"

	"github.com/necyber/elephie/pkg/logger"
)

// probePaths are logged at debug level; orchestrators poll them constantly.
var probePaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// Logger returns a middleware that logs one line per HTTP request.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", routePattern(r),
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", wrapped.size,
				"remote_addr", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			}
			if id := r.Header.Get(ConversationIDHeader); id != "" {
				args = append(args, "conversation_id", id)
			}
			if wrapped.streamed {
				args = append(args, "streamed", true)
			}
			switch {
			case wrapped.status >= http.StatusInternalServerError:
				log.ErrorContext(r.Context(), "HTTP request", args...)
			case wrapped.status >= http.StatusBadRequest:
				log.WarnContext(r.Context(), "HTTP request", args...)
			default:
				if _, probe := probePaths[r.URL.Path]; probe {
					log.DebugContext(r.Context(), "HTTP request", args...)
					return
				}
				log.InfoContext(r.Context(), "HTTP request", args...)
			}
		})
	}
}
