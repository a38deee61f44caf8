package provider

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"aichat/internal/domain"
)

// maxErrorBody caps how much of a non-2xx body is read for the error message.
const maxErrorBody = 64 * 1024

// networkErrorDetail is shown when no connection could be established.
const networkErrorDetail = "Network error: Unable to connect to AI service. Please check your internet connection."

// statusMessages are the human-readable fallbacks for common status codes.
var statusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request. Please check your message and try again.",
	http.StatusUnauthorized:        "Authentication failed. Please check your API key.",
	http.StatusForbidden:           "Access forbidden. Your API key may not have permission for this model.",
	http.StatusNotFound:            "Model not found. Please check if the selected model is available.",
	http.StatusTooManyRequests:     "Rate limit exceeded. Please wait a moment before trying again.",
	http.StatusInternalServerError: "Server error occurred. Please try again later.",
	http.StatusServiceUnavailable:  "Service temporarily unavailable. Please try again later.",
}

// errorBodyPaths are tried in order when extracting a message from a body.
var errorBodyPaths = []string{"error.message", "message", "detail"}

// statusMessage returns the fallback message for a status code.
func statusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return fmt.Sprintf("API request failed: %d %s", status, http.StatusText(status))
}

// messageFromBody extracts a provider error message from a JSON body.
// It returns "" when the body is not JSON or carries none of the known fields.
func messageFromBody(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range errorBodyPaths {
		r := gjson.GetBytes(body, path)
		if r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

// newProtocolError maps a non-2xx response to a domain.ProtocolError.
func newProtocolError(status int, body []byte) *domain.ProtocolError {
	msg := messageFromBody(body)
	if msg == "" {
		msg = statusMessage(status)
	}
	return &domain.ProtocolError{StatusCode: status, Message: msg}
}
