package glpi

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "HelpdeskPulse/pkg/errors"
	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// AttemptFunc performs one attempt with the session token to use.
type AttemptFunc func(ctx context.Context, token SessionToken) error

// AttemptObserver is told about every settled attempt, including attempts
// that complete after their caller stopped waiting.
type AttemptObserver func(class string, d time.Duration)

// RetryPolicy runs an operation with bounded, backoff-delayed re-attempts.
// Every attempt is gated by the CircuitBreaker; retries never bypass it.
type RetryPolicy struct {
	cfg      RetryConfig
	timeout  time.Duration
	breaker  *CircuitBreaker
	sessions *SessionManager
	observe  AttemptObserver
	sleep    func(ctx context.Context, d time.Duration) error

	log *pkglog.LogHelper
}

// NewRetryPolicy creates a policy. sessions may be nil for operations that do
// not need a token.
func NewRetryPolicy(cfg RetryConfig, timeout time.Duration, breaker *CircuitBreaker, sessions *SessionManager, logger log.Logger) *RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &RetryPolicy{
		cfg:      cfg,
		timeout:  timeout,
		breaker:  breaker,
		sessions: sessions,
		sleep:    sleepContext,
		log:      pkglog.NewLogHelper(log.With(logger, "module", "glpi/retry")),
	}
}

// Backoff returns the delay after the given zero-based failed attempt:
// min(BaseDelay * 2^attempt, MaxDelay).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	if d > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return d
}

// MaxAttempts returns the attempt budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

type attemptResult struct {
	token SessionToken
	err   error
	took  time.Duration
}

// Execute runs op until it succeeds, fails permanently or the budget is spent.
//
// Each attempt runs on a context detached from ctx and bounded by the call
// timeout. If ctx ends first Execute returns ctx.Err() at once; the attempt
// keeps running and its outcome is still recorded on the breaker.
func (p *RetryPolicy) Execute(ctx context.Context, op AttemptFunc) error {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := p.breaker.Allow()
		if err != nil {
			return err
		}

		resultCh := make(chan attemptResult, 1)
		go func() {
			attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
			defer cancel()
			start := time.Now()
			res := attemptResult{}
			if p.sessions != nil {
				res.token, res.err = p.sessions.Token(attemptCtx)
			}
			if res.err == nil {
				res.err = op(attemptCtx, res.token)
			}
			res.took = time.Since(start)
			resultCh <- res
		}()

		var res attemptResult
		select {
		case res = <-resultCh:
		case <-ctx.Done():
			go func() {
				p.settle(done, <-resultCh)
			}()
			return ctx.Err()
		}

		class := p.settle(done, res)
		if res.err == nil {
			return nil
		}
		lastErr = res.err

		switch class {
		case classSession:
			return res.err
		case pkgerrors.ClassPermanent, pkgerrors.ClassCanceled:
			return res.err
		case pkgerrors.ClassAuth:
			p.log.Auth("GLPI rejected the session, retrying with a fresh token",
				"attempt", attempt+1, "status", pkgerrors.StatusCode(res.err))
			continue
		}

		if attempt+1 >= p.cfg.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		p.log.Warnw("msg", "Transient GLPI failure, backing off",
			"attempt", attempt+1, "max_attempts", p.cfg.MaxAttempts,
			"delay", delay.String(), "error", res.err)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("glpi: giving up after %d attempts: %w", p.cfg.MaxAttempts, lastErr)
}

// classSession marks a failed token acquisition; it has no ErrorClass since
// the remedy is neither a retry nor a backoff.
const classSession pkgerrors.ErrorClass = -1

// settle records an attempt outcome on the breaker and session.
// 401/403 count as a breaker success because GLPI answered.
func (p *RetryPolicy) settle(done func(bool), res attemptResult) pkgerrors.ErrorClass {
	var class pkgerrors.ErrorClass
	label := "success"

	switch {
	case res.err == nil:
		done(true)
	case errors.Is(res.err, ErrSessionExpired):
		done(false)
		class, label = classSession, "session"
	default:
		class = pkgerrors.Classify(res.err)
		label = class.String()
		if class == pkgerrors.ClassAuth {
			done(true)
			if p.sessions != nil {
				p.sessions.Invalidate(res.token.Value)
			}
		} else {
			done(false)
		}
	}

	if p.observe != nil {
		p.observe(label, res.took)
	}
	return class
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
