package glpi

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

// errAttemptFailed reports a failed attempt to gobreaker, which only counts
// outcomes through the error passed to done.
var errAttemptFailed = errors.New("glpi: attempt failed")

// State is the circuit breaker state.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Counts is a read-only view of the breaker counters.
type Counts struct {
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	LastFailure          time.Time
}

// CircuitBreaker gates calls to GLPI.
//
// CLOSED → OPEN after FailureThreshold consecutive failures; OPEN → HALF_OPEN
// once RecoveryTimeout has elapsed since the trip; HALF_OPEN → CLOSED after
// SuccessThreshold consecutive successes, HALF_OPEN → OPEN on any failure.
// Transitions are evaluated lazily on Allow and State; there is no timer.
// Counters reset on every state change.
type CircuitBreaker struct {
	name     string
	cb       *gobreaker.TwoStepCircuitBreaker[struct{}]
	recovery time.Duration

	trips       atomic.Int64
	lastFailure atomic.Int64 // unix nanos
	openedAt    atomic.Int64 // unix nanos
	// admit serializes admission so the HALF_OPEN trial is claimed together
	// with gobreaker's decision. probing is set while that trial is in flight.
	admit   sync.Mutex
	probing atomic.Bool

	log *pkglog.LogHelper
}

// NewCircuitBreaker creates a breaker. Zero values in cfg take defaults.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger log.Logger) *CircuitBreaker {
	if name == "" {
		name = DefaultName
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}

	b := &CircuitBreaker{
		name:     name,
		recovery: cfg.RecoveryTimeout,
		log:      pkglog.NewLogHelper(log.With(logger, "module", "glpi/breaker", "breaker", name)),
	}

	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name: name,
		// Successes needed in HALF_OPEN before closing
		MaxRequests: cfg.SuccessThreshold,
		// No rolling window: CLOSED counters clear only on state change or success
		Interval: 0,
		Timeout:  cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	})

	breakerState.WithLabelValues(name).Set(0)
	return b
}

// onStateChange runs under gobreaker's lock; it must not call back into cb.
func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	breakerState.WithLabelValues(name).Set(stateToFloat(to))
	breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()

	switch to {
	case gobreaker.StateOpen:
		b.trips.Add(1)
		b.openedAt.Store(time.Now().UnixNano())
		b.log.Breaker("Circuit opened, GLPI calls will fail fast",
			"from", from.String(), "recovery_timeout", b.recovery.String())
	case gobreaker.StateHalfOpen:
		b.log.Breaker("Circuit half-open, allowing a trial call", "from", from.String())
	case gobreaker.StateClosed:
		b.log.Success("Circuit closed, GLPI recovered", "from", from.String())
	}
}

// Allow asks whether a call may proceed. On success the caller must invoke
// done exactly once with the outcome. A *CircuitBreakerError is returned
// while calls are rejected; no network attempt must be made then.
//
// In HALF_OPEN only one trial call is admitted at a time.
func (b *CircuitBreaker) Allow() (done func(success bool), err error) {
	b.admit.Lock()
	defer b.admit.Unlock()

	if b.probing.Load() && b.cb.State() == gobreaker.StateHalfOpen {
		return nil, b.rejection(gobreaker.StateHalfOpen)
	}

	cbDone, err := b.cb.Allow()
	if err != nil {
		return nil, b.rejection(b.cb.State())
	}

	// The OPEN → HALF_OPEN transition may happen inside cb.Allow, so the
	// trial is decided from the state after admission.
	trial := b.cb.State() == gobreaker.StateHalfOpen
	if trial {
		b.probing.Store(true)
	}

	var settled atomic.Bool
	return func(success bool) {
		if !settled.CompareAndSwap(false, true) {
			return
		}
		if trial {
			b.admit.Lock()
			defer b.admit.Unlock()
		}
		if success {
			cbDone(nil)
		} else {
			b.lastFailure.Store(time.Now().UnixNano())
			cbDone(errAttemptFailed)
		}
		if trial {
			b.probing.Store(false)
		}
	}, nil
}

func (b *CircuitBreaker) rejection(state State) *CircuitBreakerError {
	e := &CircuitBreakerError{Name: b.name, State: state}
	if state == gobreaker.StateOpen {
		if opened := b.openedAt.Load(); opened > 0 {
			if wait := time.Until(time.Unix(0, opened).Add(b.recovery)); wait > 0 {
				e.RetryAfter = wait
			}
		}
	}
	return e
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state, applying a due OPEN → HALF_OPEN transition.
func (b *CircuitBreaker) State() State {
	return b.cb.State()
}

// Counts returns the counters of the current state.
func (b *CircuitBreaker) Counts() Counts {
	c := b.cb.Counts()
	counts := Counts{
		ConsecutiveFailures:  c.ConsecutiveFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
	}
	if last := b.lastFailure.Load(); last > 0 {
		counts.LastFailure = time.Unix(0, last)
	}
	return counts
}

// Trips returns how many times the breaker has opened.
func (b *CircuitBreaker) Trips() int64 {
	return b.trips.Load()
}
