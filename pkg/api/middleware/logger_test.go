package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/necyber/elephie/pkg/logger"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", sc.Text())
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		status    int
		wantLevel string
		wantLines int
	}{
		{"document fetch", http.MethodGet, "/api/v1/documents/abc", http.StatusOK, "info", 1},
		{"document created", http.MethodPost, "/api/v1/documents", http.StatusCreated, "info", 1},
		{"missing document", http.MethodGet, "/api/v1/documents/nope", http.StatusNotFound, "warn", 1},
		{"index failure", http.MethodPost, "/api/v1/index/rebuild", http.StatusInternalServerError, "error", 1},
		{"health probe below info", http.MethodGet, "/health", http.StatusOK, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewWithWriter(&logger.Config{Level: logger.InfoLevel, Format: "json"}, &buf)

			r := chi.NewRouter()
			r.Use(Logger(log))
			r.MethodFunc(tt.method, "/api/v1/documents/{id}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			})
			r.MethodFunc(tt.method, "/api/v1/documents", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			r.MethodFunc(tt.method, "/api/v1/index/rebuild", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			r.MethodFunc(tt.method, "/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set(ConversationIDHeader, "conv-9")
			req = req.WithContext(WithRequestID(req.Context(), "req-1"))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			lines := decodeLogLines(t, &buf)
			if len(lines) != tt.wantLines {
				t.Fatalf("got %d log lines, want %d", len(lines), tt.wantLines)
			}
			if tt.wantLines == 0 {
				return
			}
			line := lines[0]
			if line["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", line["level"], tt.wantLevel)
			}
			if line["message"] != "HTTP request" {
				t.Errorf("message = %v", line["message"])
			}
			if line["request_id"] != "req-1" {
				t.Errorf("request_id = %v", line["request_id"])
			}
			if line["conversation_id"] != "conv-9" {
				t.Errorf("conversation_id = %v", line["conversation_id"])
			}
			if int(line["status"].(float64)) != tt.status {
				t.Errorf("status field = %v", line["status"])
			}
		})
	}
}

func TestLogger_RouteIsPattern(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&logger.Config{Level: logger.InfoLevel, Format: "json"}, &buf)

	r := chi.NewRouter()
	r.Use(Logger(log))
	r.Get("/api/v1/documents/{id}", func(w http.ResponseWriter, _ *http.Request) {})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/documents/Note%20of%20trip", nil))

	lines := decodeLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0]["route"] != "/api/v1/documents/{id}" {
		t.Errorf("route = %v", lines[0]["route"])
	}
}
