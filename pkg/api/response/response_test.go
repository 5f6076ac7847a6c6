package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/necyber/elephie/pkg/storage"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		data       interface{}
		wantStatus int
		wantBody   string
	}{
		{
			name:       "document",
			statusCode: http.StatusOK,
			data:       map[string]string{"id": "Note of trip > Kyoto"},
			wantStatus: http.StatusOK,
			wantBody:   `{"id":"Note of trip > Kyoto"}`,
		},
		{
			name:       "created",
			statusCode: http.StatusCreated,
			data:       map[string]int{"chunks": 3},
			wantStatus: http.StatusCreated,
			wantBody:   `{"chunks":3}`,
		},
		{
			name:       "no content",
			statusCode: http.StatusNoContent,
			data:       nil,
			wantStatus: http.StatusNoContent,
			wantBody:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JSON(w, tt.statusCode, tt.data)

			if w.Code != tt.wantStatus {
				t.Errorf("JSON() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.data == nil {
				if w.Body.Len() != 0 {
					t.Errorf("JSON() body = %q, want empty", w.Body.String())
				}
				return
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("JSON() Content-Type = %v, want application/json", got)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("JSON() body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}

func TestJSON_KeepsMarkup(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"content": "<REPLY>hi</REPLY> & [a](b)"})

	body := w.Body.String()
	if !strings.Contains(body, "<REPLY>hi</REPLY> & [a](b)") {
		t.Errorf("markup was escaped: %s", body)
	}
}

func TestJSON_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if resp.Error.Code != ErrCodeInternalServer {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestFail(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "missing document shows the id",
			err:         fmt.Errorf("get: %w", &storage.NotFoundError{ID: "Note of Travel"}),
			wantStatus:  http.StatusNotFound,
			wantCode:    ErrCodeNotFound,
			wantMessage: "get: document not found: Note of Travel",
		},
		{
			name:        "invalid document",
			err:         &storage.ValidationError{Field: "doc_time", Reason: "empty"},
			wantStatus:  http.StatusBadRequest,
			wantCode:    ErrCodeBadRequest,
			wantMessage: "invalid document doc_time: empty",
		},
		{
			name:        "backend down hides the cause",
			err:         &storage.StorageUnavailableError{Cause: errors.New("dial tcp 10.0.0.7:6379: refused")},
			wantStatus:  http.StatusServiceUnavailable,
			wantCode:    ErrCodeServiceUnavailable,
			wantMessage: "Failed to load document",
		},
		{
			name:        "deadline",
			err:         fmt.Errorf("list: %w", context.DeadlineExceeded),
			wantStatus:  http.StatusGatewayTimeout,
			wantCode:    ErrCodeGatewayTimeout,
			wantMessage: "Failed to load document",
		},
		{
			name:        "anything else",
			err:         errors.New("badger: value log corrupt"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    ErrCodeInternalServer,
			wantMessage: "Failed to load document",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Fail(w, tt.err, "Failed to load document", "req-7")

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if resp.Error.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", resp.Error.Message, tt.wantMessage)
			}
			if resp.Error.RequestID != "req-7" {
				t.Errorf("request_id = %q", resp.Error.RequestID)
			}
		})
	}
}

func TestCodeFor(t *testing.T) {
	if got := CodeFor(http.StatusTooManyRequests); got != ErrCodeTooManyRequests {
		t.Errorf("CodeFor(429) = %q", got)
	}
	if got := CodeFor(http.StatusTeapot); got != ErrCodeInternalServer {
		t.Errorf("CodeFor(418) = %q, want fallback", got)
	}
}
