package devin

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the single failure type for every non-2xx response from the
// remote agent service. It carries the HTTP status and body for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return fmt.Sprintf("bad request: %s", e.Body)
	case http.StatusUnauthorized:
		return "unauthorized: invalid API key"
	case http.StatusNotFound:
		return "resource not found"
	default:
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
	}
}

// Retryable classifies a remote-call failure. Server faults (5xx) and
// explicit rate-limit signals (429) are transient; everything else,
// including bad requests, auth failures, not-found, and non-API errors,
// is fatal. Classification is by status code, never by message text.
func Retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
}
