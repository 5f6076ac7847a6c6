package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/necyber/elephie/pkg/storage"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

var codeByStatus = map[int]string{
	http.StatusBadRequest:         ErrCodeBadRequest,
	http.StatusUnauthorized:       ErrCodeUnauthorized,
	http.StatusForbidden:          ErrCodeForbidden,
	http.StatusNotFound:           ErrCodeNotFound,
	http.StatusTooManyRequests:    ErrCodeTooManyRequests,
	http.StatusServiceUnavailable: ErrCodeServiceUnavailable,
	http.StatusGatewayTimeout:     ErrCodeGatewayTimeout,
}

// CodeFor returns the error code for status.
func CodeFor(status int) string {
	if code, ok := codeByStatus[status]; ok {
		return code
	}
	return ErrCodeInternalServer
}

// StatusFor maps storage and deadline errors to an HTTP status.
func StatusFor(err error) int {
	var (
		notFound    *storage.NotFoundError
		invalid     *storage.ValidationError
		unavailable *storage.StorageUnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err as an error reply. Client errors carry err's text; server
// errors carry fallback so backend details stay in the logs.
func Fail(w http.ResponseWriter, err error, fallback, requestID string) {
	status := StatusFor(err)
	message := fallback
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	Error(w, status, CodeFor(status), message, requestID)
}
