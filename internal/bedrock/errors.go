package bedrock

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	smithy "github.com/aws/smithy-go"
)

// TranslatedError maps an AWS SDK failure onto an HTTP status the relay can
// forward as an Anthropic-shaped error.
type TranslatedError struct {
	Status     int
	Code       string
	Message    string
	Suggestion string
}

func (e *TranslatedError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("bedrock: %s: %s (did you mean %q?)", e.Code, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("bedrock: %s: %s", e.Code, e.Message)
}

// ClientMessage is the message body surfaced to the caller.
func (e *TranslatedError) ClientMessage() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s. Did you mean %q?", e.Message, e.Suggestion)
	}
	return e.Message
}

// credentialCodes are AWS error codes meaning the account cannot
// authenticate, matched case-insensitively.
var credentialCodes = []string{
	"accessdenied",
	"accessdeniedexception",
	"unrecognizedclient",
	"unrecognizedclientexception",
	"invalidsignature",
	"invalidsignatureexception",
	"expiredtoken",
	"expiredtokenexception",
	"invalidclienttokenid",
}

// Translate classifies an SDK error. suggest, when non-nil, proposes an
// alternative model id for not-found errors.
func Translate(err error, suggest func() string) *TranslatedError {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return &TranslatedError{
			Status:  http.StatusInternalServerError,
			Code:    "InternalError",
			Message: err.Error(),
		}
	}

	code := apiErr.ErrorCode()
	message := apiErr.ErrorMessage()
	lower := strings.ToLower(code)

	switch {
	case isCredentialCode(lower):
		return &TranslatedError{Status: http.StatusForbidden, Code: code, Message: message}
	case strings.Contains(lower, "throttl") || lower == "toomanyrequestsexception":
		return &TranslatedError{Status: http.StatusTooManyRequests, Code: code, Message: message}
	case strings.Contains(lower, "serviceunavailable") || strings.Contains(lower, "internalserver"):
		return &TranslatedError{Status: http.StatusServiceUnavailable, Code: code, Message: message}
	case strings.Contains(lower, "resourcenotfound") || strings.Contains(lower, "modelnotready"):
		out := &TranslatedError{Status: http.StatusNotFound, Code: code, Message: message}
		if suggest != nil {
			out.Suggestion = suggest()
		}
		return out
	case strings.Contains(lower, "validation"):
		return &TranslatedError{Status: http.StatusBadRequest, Code: code, Message: message}
	default:
		return &TranslatedError{Status: http.StatusInternalServerError, Code: code, Message: message}
	}
}

func isCredentialCode(lower string) bool {
	for _, c := range credentialCodes {
		if lower == c {
			return true
		}
	}
	return false
}

// IsStreamingUnsupported reports a validation error complaining about
// streaming; the caller retries the request non-streaming once.
func IsStreamingUnsupported(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.ErrorCode()), "validation") &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "streaming")
}

// IsAccessDenied reports a permissions failure; the profile cache treats
// these as "assume supported".
func IsAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.ErrorCode()), "accessdenied")
}

// retryable reports whether a cache-population call should back off and try
// again: throttling, 5xx fault, or transport failure.
func retryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		// No API error envelope means the request never got a response.
		return true
	}
	lower := strings.ToLower(apiErr.ErrorCode())
	if strings.Contains(lower, "throttl") {
		return true
	}
	return apiErr.ErrorFault() == smithy.FaultServer
}
