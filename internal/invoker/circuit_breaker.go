package invoker

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/fieldadmin/internal/config"
)

// BreakerState is the state of the remote API circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the breaker is open.
var ErrBreakerOpen = errors.New("invoker: circuit breaker is open")

// minWindowSamples keeps the error rate from tripping on a handful of calls.
const minWindowSamples = 10

// CircuitBreaker guards the remote API. It opens after FailureThreshold
// consecutive infrastructure failures, or once the failure rate of the
// current window crosses ErrorRateThreshold, and lets a trial call through after
// Timeout. 4xx responses are business outcomes and never count.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg config.CircuitBreakerConfig

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	onChange func(BreakerState)
	now      func() time.Time
}

// NewCircuitBreaker builds a breaker from cfg, filling zero thresholds with
// defaults. onChange, if non-nil, is called with the lock held on every
// state change and must not call back into the breaker.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, onChange func(BreakerState)) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cb := &CircuitBreaker{cfg: cfg, onChange: onChange, now: time.Now}
	cb.windowStart = cb.now()
	return cb
}

// Allow reports whether a call may go out.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireOpen()
	if cb.state == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a call that reached the remote API and got a
// non-5xx answer.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.countInWindow(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.moveTo(BreakerClosed)
		}
	}
}

// RecordFailure records a network failure or 5xx answer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.countInWindow(true)
		if cb.failures >= cb.cfg.FailureThreshold || cb.rateExceeded() {
			cb.moveTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.moveTo(BreakerOpen)
	}
}

// State returns the current state, promoting an expired open breaker to
// half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireOpen()
	return cb.state
}

// Counts returns the consecutive failure and half-open success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

// ErrorRate returns the failure rate and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

func (cb *CircuitBreaker) expireOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.cfg.Timeout {
		cb.moveTo(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) moveTo(next BreakerState) {
	if cb.state == next {
		return
	}
	cb.state = next
	cb.successes = 0
	switch next {
	case BreakerOpen:
		cb.openedAt = cb.now()
		cb.resetWindow()
	case BreakerClosed:
		cb.failures = 0
		cb.resetWindow()
	}
	if cb.onChange != nil {
		cb.onChange(next)
	}
}

func (cb *CircuitBreaker) countInWindow(failed bool) {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	cb.rollWindow()
	cb.windowTotal++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) rollWindow() {
	if cb.cfg.ErrorRateWindow > 0 && cb.now().Sub(cb.windowStart) > cb.cfg.ErrorRateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) rateExceeded() bool {
	if cb.cfg.ErrorRateThreshold <= 0 || cb.cfg.ErrorRateWindow <= 0 || cb.windowTotal < minWindowSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.cfg.ErrorRateThreshold
}
