package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/bedrock"
)

// ErrorResponse matches Anthropic's error envelope exactly.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an Anthropic-shaped JSON error response.
func NewErrorResponse(statusCode int, errorType, message string) *http.Response {
	body, _ := json.Marshal(ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errorType, Message: message},
	})

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode:    statusCode,
		Status:        http.StatusText(statusCode),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// responseForError maps a dispatch failure onto the error envelope the
// client sees.
func responseForError(err error) *http.Response {
	var translated *bedrock.TranslatedError
	if errors.As(err, &translated) {
		return NewErrorResponse(translated.Status, errorTypeForStatus(translated.Status), translated.ClientMessage())
	}

	var refreshErr *auth.TokenRefreshError
	if errors.As(err, &refreshErr) {
		return NewErrorResponse(http.StatusUnauthorized, "authentication_error", refreshErr.Error())
	}

	return NewErrorResponse(http.StatusBadGateway, "api_error", err.Error())
}

func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusForbidden, http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable:
		return "overloaded_error"
	default:
		return "api_error"
	}
}
