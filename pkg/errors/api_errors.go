package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// ErrorClass tells the retry policy what to do with a failed attempt.
type ErrorClass int

const (
	// ClassPermanent errors are returned immediately, retrying cannot help.
	ClassPermanent ErrorClass = iota
	// ClassTransient errors (network, 5xx, 408, 429) are retried with backoff.
	ClassTransient
	// ClassAuth errors (401, 403) invalidate the session and retry at once.
	ClassAuth
	// ClassCanceled means the caller gave up; nothing is retried.
	ClassCanceled
)

// String returns the class name used in logs and metric labels.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "auth"
	case ClassCanceled:
		return "canceled"
	default:
		return "permanent"
	}
}

// ErrMalformedResponse marks a response that could not be interpreted
// (undecodable body, missing or invalid Content-Range).
var ErrMalformedResponse = errors.New("malformed response")

// maxBodyInError caps how much of a response body is kept in APIError.
const maxBodyInError = 512

// APIError is a non-2xx answer from the remote API.
type APIError struct {
	StatusCode int
	Method     string
	Endpoint   string
	// Code is the GLPI error code (e.g. ERROR_SESSION_TOKEN_INVALID) when the body carries one.
	Code string
	Body string
}

// NewAPIError builds an APIError, truncating the body.
func NewAPIError(statusCode int, method, endpoint, code string, body []byte) *APIError {
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	return &APIError{
		StatusCode: statusCode,
		Method:     method,
		Endpoint:   endpoint,
		Code:       code,
		Body:       string(body),
	}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s returned %d (%s): %s", e.Method, e.Endpoint, e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

// Class classifies the status code.
func (e *APIError) Class() ErrorClass {
	return ClassifyStatus(e.StatusCode)
}

// ClassifyStatus maps an HTTP status code to its ErrorClass.
//
//   - 401, 403 → ClassAuth
//   - 408, 429, 5xx → ClassTransient
//   - anything else → ClassPermanent
func ClassifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ClassAuth
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return ClassTransient
	case statusCode >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// Classify decides how a failed attempt is handled.
// Unknown errors are permanent; only errors known to be worth a second
// attempt are transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class()
	}

	if errors.Is(err, ErrMalformedResponse) {
		return ClassPermanent
	}

	// Per-attempt timeouts surface as DeadlineExceeded
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassTransient
	}

	return ClassPermanent
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && Classify(err) == ClassPermanent
}

// IsAuth reports whether err is an authorization failure (401/403).
func IsAuth(err error) bool {
	return err != nil && Classify(err) == ClassAuth
}

// StatusCode extracts the HTTP status from an APIError chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
