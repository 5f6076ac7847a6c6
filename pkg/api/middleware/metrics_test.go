package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

type sample struct {
	method, route string
	status        int
	streamed      bool
	traceID       string
}

type sampleRecorder struct {
	mu       sync.Mutex
	samples  []sample
	inFlight float64
	peak     float64
}

func (s *sampleRecorder) ObserveHTTPRequest(ctx context.Context, method, route string, status int, streamed bool, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	smp := sample{method: method, route: route, status: status, streamed: streamed}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		smp.traceID = sc.TraceID().String()
	}
	s.samples = append(s.samples, smp)
}

func (s *sampleRecorder) AddInFlight(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight += delta
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
}

func (s *sampleRecorder) only(t *testing.T) sample {
	t.Helper()
	if len(s.samples) != 1 {
		t.Fatalf("recorded %d samples, want 1: %+v", len(s.samples), s.samples)
	}
	return s.samples[0]
}

func metricsRouter(rec MetricsRecorder) chi.Router {
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/api/v1/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
		w.(http.Flusher).Flush()
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func TestMetrics_Samples(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   sample
	}{
		{
			name:   "route pattern instead of escaped id",
			method: http.MethodGet,
			path:   "/api/v1/documents/Conversation%20on%202024-05-01",
			want:   sample{method: "GET", route: "/api/v1/documents/{id}", status: http.StatusNotFound},
		},
		{
			name:   "flushed answer is a stream",
			method: http.MethodPost,
			path:   "/v1/chat/completions",
			want:   sample{method: "POST", route: "/v1/chat/completions", status: http.StatusOK, streamed: true},
		},
		{
			name:   "implicit 200",
			method: http.MethodGet,
			path:   "/ready",
			want:   sample{method: "GET", route: "/ready", status: http.StatusOK},
		},
		{
			name:   "unknown path",
			method: http.MethodGet,
			path:   "/wp-login.php",
			want:   sample{method: "GET", route: unmatchedRoute, status: http.StatusNotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &sampleRecorder{}
			metricsRouter(rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			if got := rec.only(t); got != tt.want {
				t.Errorf("sample = %+v, want %+v", got, tt.want)
			}
			if rec.inFlight != 0 || rec.peak != 1 {
				t.Errorf("in flight = %v peak = %v, want 0 and 1", rec.inFlight, rec.peak)
			}
		})
	}
}

func TestMetrics_SkipsScrapes(t *testing.T) {
	rec := &sampleRecorder{}
	metricsRouter(rec).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if len(rec.samples) != 0 || rec.peak != 0 {
		t.Errorf("scrape was recorded: %+v", rec.samples)
	}
}

func TestMetrics_PanicRecordedAs500(t *testing.T) {
	rec := &sampleRecorder{}
	handler := Metrics(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("index snapshot missing")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
	}()

	if got := rec.only(t); got.status != http.StatusInternalServerError || got.route != unmatchedRoute {
		t.Errorf("sample = %+v", got)
	}
	if rec.inFlight != 0 {
		t.Errorf("in flight = %v after panic", rec.inFlight)
	}
}

func TestMetrics_PassesSpanContext(t *testing.T) {
	rec := &sampleRecorder{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xe1},
		SpanID:     trace.SpanID{0x02},
		TraceFlags: trace.FlagsSampled,
	})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil).
		WithContext(trace.ContextWithSpanContext(context.Background(), sc))

	metricsRouter(rec).ServeHTTP(httptest.NewRecorder(), req)

	if got := rec.only(t); got.traceID != sc.TraceID().String() {
		t.Errorf("trace id = %q, want %q", got.traceID, sc.TraceID().String())
	}
}
