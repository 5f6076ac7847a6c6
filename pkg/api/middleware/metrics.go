package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, keeping label
// cardinality bounded when clients probe random paths.
const unmatchedRoute = "unmatched"

// MetricsRecorder receives one sample per finished request. Streamed is set
// for SSE answers and upgraded connections.
type MetricsRecorder interface {
	ObserveHTTPRequest(ctx context.Context, method, route string, status int, streamed bool, duration time.Duration)
	AddInFlight(delta float64)
}

// Metrics returns a middleware that records HTTP metrics by chi route.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.AddInFlight(1)
			defer recorder.AddInFlight(-1)

			mw := newStatusRecorder(w)
			defer func() {
				if err := recover(); err != nil {
					mw.status = http.StatusInternalServerError
					observe(recorder, r, mw, start)
					panic(err)
				}
			}()

			next.ServeHTTP(mw, r)
			observe(recorder, r, mw, start)
		})
	}
}

func observe(recorder MetricsRecorder, r *http.Request, mw *statusRecorder, start time.Time) {
	recorder.ObserveHTTPRequest(r.Context(), r.Method, metricsRoute(r), mw.status, mw.streamed, time.Since(start))
}

func metricsRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
