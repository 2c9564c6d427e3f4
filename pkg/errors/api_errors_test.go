package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{400, ClassPermanent},
		{401, ClassAuth},
		{403, ClassAuth},
		{404, ClassPermanent},
		{408, ClassTransient},
		{422, ClassPermanent},
		{429, ClassTransient},
		{500, ClassTransient},
		{502, ClassTransient},
		{503, ClassTransient},
		{504, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyStatus(tt.status))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "wrapped api 503",
			err:      fmt.Errorf("attempt 1: %w", NewAPIError(503, "GET", "search/Ticket", "", nil)),
			expected: ClassTransient,
		},
		{
			name:     "api 401",
			err:      NewAPIError(401, "GET", "search/Ticket", "ERROR_SESSION_TOKEN_INVALID", nil),
			expected: ClassAuth,
		},
		{
			name:     "api 400",
			err:      NewAPIError(400, "GET", "search/Ticket", "ERROR_BAD_ARRAY", nil),
			expected: ClassPermanent,
		},
		{
			name:     "malformed",
			err:      fmt.Errorf("content-range %q: %w", "garbage", ErrMalformedResponse),
			expected: ClassPermanent,
		},
		{
			name:     "caller canceled",
			err:      fmt.Errorf("request: %w", context.Canceled),
			expected: ClassCanceled,
		},
		{
			name:     "attempt deadline",
			err:      context.DeadlineExceeded,
			expected: ClassTransient,
		},
		{
			name:     "unexpected eof",
			err:      io.ErrUnexpectedEOF,
			expected: ClassTransient,
		},
		{
			name:     "url error",
			err:      &url.Error{Op: "Get", URL: "http://glpi", Err: errors.New("connection refused")},
			expected: ClassTransient,
		},
		{
			name:     "dial error",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			expected: ClassTransient,
		},
		{
			name:     "unknown",
			err:      errors.New("something odd"),
			expected: ClassPermanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestClassPredicates(t *testing.T) {
	assert.True(t, IsTransient(NewAPIError(429, "GET", "x", "", nil)))
	assert.False(t, IsTransient(nil))
	assert.True(t, IsPermanent(NewAPIError(404, "GET", "x", "", nil)))
	assert.False(t, IsPermanent(nil))
	assert.True(t, IsAuth(NewAPIError(403, "GET", "x", "", nil)))
	assert.False(t, IsAuth(NewAPIError(500, "GET", "x", "", nil)))
	assert.False(t, IsAuth(nil))
}

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError(401, "GET", "search/Ticket", "ERROR_SESSION_TOKEN_INVALID", []byte(`["ERROR_SESSION_TOKEN_INVALID","session_token seems invalid"]`))
	assert.Contains(t, err.Error(), "GET search/Ticket returned 401")
	assert.Contains(t, err.Error(), "ERROR_SESSION_TOKEN_INVALID")

	plain := NewAPIError(500, "POST", "Ticket", "", []byte("oops"))
	assert.Equal(t, "POST Ticket returned 500: oops", plain.Error())
}

func TestNewAPIError_TruncatesBody(t *testing.T) {
	err := NewAPIError(500, "GET", "x", "", []byte(strings.Repeat("a", 2000)))
	assert.Len(t, err.Body, maxBodyInError)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 502, StatusCode(fmt.Errorf("wrapped: %w", NewAPIError(502, "GET", "x", "", nil))))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "permanent", ClassPermanent.String())
	assert.Equal(t, "auth", ClassAuth.String())
	assert.Equal(t, "canceled", ClassCanceled.String())
}
