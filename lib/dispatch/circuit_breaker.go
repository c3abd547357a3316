package dispatch

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards a single channel against repeated delivery failures.
//
// Closed counts consecutive failures and opens at threshold. An open breaker
// refuses sends until timeout has elapsed since the last failure, then grants
// trial sends; the state moves to half-open when a trial's outcome is
// recorded. Half-open closes after successThreshold consecutive successes and
// reopens on any failure.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time

	threshold        int
	timeout          time.Duration
	successThreshold int
}

func NewCircuitBreaker(threshold int, timeout time.Duration, successThreshold int) *CircuitBreaker {
	return &CircuitBreaker{
		state:            BreakerClosed,
		threshold:        threshold,
		timeout:          timeout,
		successThreshold: successThreshold,
	}
}

// Allow reports whether a send may proceed right now. It never changes state:
// an open breaker past its cooldown simply grants a trial, and the transition
// to half-open happens when that trial's outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		return time.Since(cb.lastFailure) > cb.timeout
	}
	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		// Outcome of a trial send granted while open.
		cb.state = BreakerHalfOpen
	}

	cb.successes++
	cb.failures = 0

	if cb.state == BreakerHalfOpen && cb.successes >= cb.successThreshold {
		cb.state = BreakerClosed
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		cb.state = BreakerHalfOpen
	}

	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now().UTC()

	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.threshold {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerRegistry owns one breaker per channel, created lazily on first use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[uint]*CircuitBreaker

	threshold        int
	timeout          time.Duration
	successThreshold int
}

func NewBreakerRegistry(threshold int, timeout time.Duration, successThreshold int) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[uint]*CircuitBreaker),
		threshold:        threshold,
		timeout:          timeout,
		successThreshold: successThreshold,
	}
}

func (r *BreakerRegistry) For(channelID uint) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb := r.breakers[channelID]
	if cb == nil {
		cb = NewCircuitBreaker(r.threshold, r.timeout, r.successThreshold)
		r.breakers[channelID] = cb
	}
	return cb
}

// Counts reports how many breakers exist and how many are currently open.
func (r *BreakerRegistry) Counts() (total, open int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cb := range r.breakers {
		if cb.State() == BreakerOpen {
			open++
		}
	}
	return len(r.breakers), open
}
