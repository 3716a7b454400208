package upstream

import (
	"errors"
	"sync"
	"time"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("upstream: circuit breaker open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a failure-ratio circuit breaker guarding the aggregator API.
// It opens once the failure ratio exceeds the threshold over a minimum
// number of observed requests, cools off, then probes with a single request.
type Breaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	successes    int
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
}

// NewBreaker constructs a breaker with sane defaults for zero values.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 5
	}
	if failureRatio <= 0 || failureRatio > 1 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{minRequests: minRequests, failureRatio: failureRatio, openFor: openFor}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if time.Since(b.openedAt) >= b.openFor {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

// Report records the outcome of a request.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		return
	case stateHalfOpen:
		if success {
			b.reset(stateClosed)
		} else {
			b.trip()
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.successes + b.failures
	if total >= b.minRequests && float64(b.failures)/float64(total) >= b.failureRatio {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.reset(stateOpen)
	b.openedAt = time.Now()
}

func (b *Breaker) reset(next breakerState) {
	b.state = next
	b.failures = 0
	b.successes = 0
}
