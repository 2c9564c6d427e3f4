package glpi

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen matches any *CircuitBreakerError with errors.Is.
	ErrCircuitOpen = errors.New("glpi: circuit breaker is open")

	// ErrSessionExpired matches any *SessionExpiredError with errors.Is.
	ErrSessionExpired = errors.New("glpi: session expired")
)

// CircuitBreakerError is returned without any network attempt while the
// breaker rejects calls. Callers must treat it as "unavailable now" and not
// retry immediately.
type CircuitBreakerError struct {
	Name  string
	State State
	// RetryAfter estimates when the breaker will let a trial call through.
	RetryAfter time.Duration
}

func (e *CircuitBreakerError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("glpi: circuit breaker %s is %s, retry after %s", e.Name, e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("glpi: circuit breaker %s is %s", e.Name, e.State)
}

// Is makes errors.Is(err, ErrCircuitOpen) true.
func (e *CircuitBreakerError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// SessionExpiredError means no session token could be obtained. It is fatal
// for the current operation; the next call tries to authenticate again.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("glpi: session could not be established: %v", e.Err)
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSessionExpired) true.
func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

// IsUnavailable reports whether err means GLPI cannot be used right now.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
