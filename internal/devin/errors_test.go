package devin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request", 400, false},
		{"unauthorized", 401, false},
		{"not found", 404, false},
		{"rate limited", 429, true},
		{"server error", 500, true},
		{"bad gateway", 502, true},
		{"service unavailable", 503, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &APIError{StatusCode: tt.status, Body: "boom"}
			assert.Equal(t, tt.retryable, Retryable(err))
		})
	}
}

func TestRetryableNonAPIError(t *testing.T) {
	assert.False(t, Retryable(errors.New("connection refused")))
	assert.False(t, Retryable(nil))
}

func TestRetryableWrappedAPIError(t *testing.T) {
	err := fmt.Errorf("create session: %w", &APIError{StatusCode: 503, Body: "overloaded"})
	assert.True(t, Retryable(err))
}

func TestAPIErrorMessages(t *testing.T) {
	assert.Contains(t, (&APIError{StatusCode: 400, Body: "missing prompt"}).Error(), "bad request")
	assert.Contains(t, (&APIError{StatusCode: 401}).Error(), "unauthorized")
	assert.Contains(t, (&APIError{StatusCode: 404}).Error(), "not found")
	assert.Contains(t, (&APIError{StatusCode: 502, Body: "upstream"}).Error(), "502")
}
