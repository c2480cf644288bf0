package fetch

import (
	"sync"
	"time"
)

const (
	// DefaultBreakerThreshold is the failure count at which a host's
	// breaker opens.
	DefaultBreakerThreshold = 5

	// DefaultBreakerCooldown is how long a breaker stays open after the
	// most recent failure.
	DefaultBreakerCooldown = 5 * time.Minute
)

// CircuitBreaker tracks failures for a single host.
//
// The breaker opens once the failure count reaches the threshold. After the
// cooldown has elapsed since the last failure it closes again and the count
// starts over from zero. Successes decrement the count, floored at zero, so
// a mostly healthy host is not taken out by occasional errors.
type CircuitBreaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	threshold   int
	cooldown    time.Duration
}

// NewCircuitBreaker creates a breaker. Non-positive threshold or cooldown
// fall back to the package defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}

	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// IsOpen reports whether requests to the host should be skipped. Once the
// cooldown has passed since the last failure the breaker resets itself.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return false
	}

	if time.Since(b.lastFailure) > b.cooldown {
		b.failures = 0
		return false
	}

	return true
}

// RecordFailure bumps the failure count and stamps the failure time.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
}

// RecordSuccess decrements the failure count, never below zero.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
	}
}

// Failures returns the current failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failures
}
