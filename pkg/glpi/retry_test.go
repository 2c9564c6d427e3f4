package glpi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pkgerrors "HelpdeskPulse/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func setupRetry(t *testing.T, failureThreshold uint32) (*RetryPolicy, *CircuitBreaker, *fakeAuth, *sleepRecorder) {
	breaker := NewCircuitBreaker(t.Name(), BreakerConfig{
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	}, testLogger)
	auth := &fakeAuth{}
	sessions := NewSessionManager(t.Name(), auth, time.Hour, 5*time.Minute, testLogger)
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		time.Second, breaker, sessions, testLogger)
	rec := &sleepRecorder{}
	policy.sleep = rec.sleep
	return policy, breaker, auth, rec
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		time.Second, nil, nil, testLogger)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{}, 0, nil, nil, testLogger)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	assert.Equal(t, DefaultCallTimeout, p.timeout)
	assert.Equal(t, DefaultBaseDelay, p.Backoff(0))
}

func TestRetryPolicy_AllTransientExhaustsBudget(t *testing.T) {
	policy, breaker, _, rec := setupRetry(t, 10)

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		n := attempts.Add(1)
		return pkgerrors.NewAPIError(500+int(n), "GET", "search/Ticket", "", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 503, pkgerrors.StatusCode(err), "last error is surfaced")
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.Equal(t, uint32(3), breaker.Counts().ConsecutiveFailures)
}

func TestRetryPolicy_PermanentFailsOnce(t *testing.T) {
	policy, breaker, _, rec := setupRetry(t, 10)

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		attempts.Add(1)
		return pkgerrors.NewAPIError(404, "GET", "Ticket/99", "ERROR_ITEM_NOT_FOUND", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 404, pkgerrors.StatusCode(err))
	assert.Empty(t, rec.delays)
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestRetryPolicy_MalformedIsPermanent(t *testing.T) {
	policy, _, _, _ := setupRetry(t, 10)

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		attempts.Add(1)
		return pkgerrors.ErrMalformedResponse
	})

	assert.ErrorIs(t, err, pkgerrors.ErrMalformedResponse)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRetryPolicy_AuthFailureRenewsSessionWithoutBackoff(t *testing.T) {
	policy, breaker, auth, rec := setupRetry(t, 10)

	var seen []string
	err := policy.Execute(context.Background(), func(ctx context.Context, token SessionToken) error {
		seen = append(seen, token.Value)
		if len(seen) == 1 {
			return pkgerrors.NewAPIError(401, "GET", "search/Ticket", "ERROR_SESSION_TOKEN_INVALID", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"token-1", "token-2"}, seen)
	assert.Equal(t, int32(2), auth.calls.Load())
	assert.Empty(t, rec.delays)
	assert.Equal(t, uint32(0), breaker.Counts().ConsecutiveFailures, "401 counts as an answer")
}

func TestRetryPolicy_TransientThenSuccess(t *testing.T) {
	policy, breaker, _, rec := setupRetry(t, 10)

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		if attempts.Add(1) < 3 {
			return pkgerrors.NewAPIError(429, "GET", "search/Ticket", "", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, rec.delays, 2)
	assert.Equal(t, uint32(0), breaker.Counts().ConsecutiveFailures)
}

func TestRetryPolicy_OpenBreakerSkipsAttempt(t *testing.T) {
	policy, breaker, auth, _ := setupRetry(t, 1)
	record(t, breaker, false, 1)
	require.Equal(t, StateOpen, breaker.State())

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		attempts.Add(1)
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(0), attempts.Load())
	assert.Equal(t, int32(0), auth.calls.Load(), "no session is opened for a rejected call")
}

func TestRetryPolicy_BreakerOpensMidRetry(t *testing.T) {
	policy, breaker, _, _ := setupRetry(t, 2)

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		attempts.Add(1)
		return pkgerrors.NewAPIError(502, "GET", "search/Ticket", "", nil)
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, StateOpen, breaker.State())
}

func TestRetryPolicy_SessionFailureIsFatal(t *testing.T) {
	policy, breaker, auth, _ := setupRetry(t, 10)
	auth.err = errBoom

	var attempts atomic.Int32
	err := policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		attempts.Add(1)
		return nil
	})

	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), attempts.Load())
	assert.Equal(t, int32(1), auth.calls.Load())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestRetryPolicy_CanceledCallerStillRecordsOutcome(t *testing.T) {
	policy, breaker, _, _ := setupRetry(t, 10)

	release := make(chan struct{})
	entered := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		result <- policy.Execute(ctx, func(ctx context.Context, _ SessionToken) error {
			close(entered)
			<-release
			return pkgerrors.NewAPIError(500, "GET", "search/Ticket", "", nil)
		})
	}()

	<-entered
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancellation")
	}

	assert.Equal(t, uint32(0), breaker.Counts().ConsecutiveFailures)
	close(release)

	assert.Eventually(t, func() bool {
		return breaker.Counts().ConsecutiveFailures == 1
	}, time.Second, 5*time.Millisecond, "late failure reaches the breaker")
}

func TestRetryPolicy_ObserverSeesEveryAttempt(t *testing.T) {
	policy, _, _, _ := setupRetry(t, 10)

	var mu sync.Mutex
	var classes []string
	policy.observe = func(class string, _ time.Duration) {
		mu.Lock()
		classes = append(classes, class)
		mu.Unlock()
	}

	var attempts atomic.Int32
	_ = policy.Execute(context.Background(), func(ctx context.Context, _ SessionToken) error {
		switch attempts.Add(1) {
		case 1:
			return pkgerrors.NewAPIError(503, "GET", "x", "", nil)
		case 2:
			return pkgerrors.NewAPIError(401, "GET", "x", "", nil)
		default:
			return errors.New("odd")
		}
	})

	assert.Equal(t, []string{"transient", "auth", "permanent"}, classes)
}
