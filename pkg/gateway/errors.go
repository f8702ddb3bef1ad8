package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError means no HTTP response was received: the connection
// failed, dropped, or the request timed out.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError means the remote API answered with a non-2xx status. Payload
// holds the decoded JSON body (map[string]any, []any, ...) or the raw text
// when the body is not JSON.
type APIError struct {
	Method  string
	URL     string
	Status  int
	Payload any
	Raw     []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.Message())
}

// Message returns the best human-readable reason: the payload's "message"
// (or "error") field, the text body, or the status text.
func (e *APIError) Message() string {
	switch payload := e.Payload.(type) {
	case map[string]any:
		for _, key := range []string{"message", "error", "title"} {
			if msg, ok := payload[key].(string); ok && msg != "" {
				return msg
			}
		}
	case string:
		if msg := strings.TrimSpace(payload); msg != "" {
			return msg
		}
	}
	return http.StatusText(e.Status)
}

// Unauthorized reports a 401 or 403, which is how an expired or missing
// credential surfaces.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
