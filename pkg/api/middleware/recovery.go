package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/logger"
)

// Recovery returns a middleware that recovers from panics. The panic value
// is logged, never returned to the client. A chat stream that already sent
// its headers is left as is; the client sees the stream end without [DONE].
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				if requestID == "" {
					requestID = r.Header.Get(RequestIDHeader)
				}
				if requestID == "" {
					requestID = "unknown"
				}
				streaming := strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream")

				log.ErrorContext(r.Context(), "Panic recovered",
					"error", rec,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", requestID,
					"conversation_id", r.Header.Get(ConversationIDHeader),
					"streaming", streaming,
					"stack", string(debug.Stack()),
				)
				if streaming {
					return
				}

				response.Error(w,
					http.StatusInternalServerError,
					response.ErrCodeInternalServer,
					"Internal server error",
					requestID,
				)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
