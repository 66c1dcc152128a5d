package adapter

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when circuit is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Guards upstream calls so a dead API flips the adapter straight to
// fallback content instead of burning the timeout on every request.
type Breaker struct {
	mu              sync.RWMutex
	state           breakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	maxFailures     int
	timeout         time.Duration
	halfOpenSuccess int
}

func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Breaker{
		state:           stateClosed,
		maxFailures:     maxFailures,
		timeout:         timeout,
		halfOpenSuccess: 1,
	}
}

// Executes the given function with circuit breaker protection
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()

	if b.state == stateOpen {
		if time.Since(b.lastFailureTime) > b.timeout {
			b.state = stateHalfOpen
			b.successCount = 0
		} else {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	if b.state == stateHalfOpen {
		// In half-open, any failure opens the circuit
		b.state = stateOpen
		b.successCount = 0
	} else if b.failureCount >= b.maxFailures {
		b.state = stateOpen
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case stateHalfOpen:
		b.successCount++
		if b.successCount >= b.halfOpenSuccess {
			b.state = stateClosed
			b.failureCount = 0
		}
	case stateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) State() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.String()
}

// Reset forces the breaker closed. Used by the admin API after an
// upstream incident is resolved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failureCount = 0
	b.successCount = 0
}
