package resilience

import (
	"errors"
	"sync"
	"time"
)

// QuotaError represents an exhausted usage budget at a provider, as opposed
// to a transient technical failure. Callers distinguish it because it is
// expected to recur for the rest of a session.
type QuotaError struct {
	Provider string
	Message  string
}

func (e QuotaError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "quota exceeded"
}

// IsQuota returns true when the error chain contains a QuotaError.
func IsQuota(err error) bool {
	var qe QuotaError
	return errors.As(err, &qe)
}

// CircuitBreaker blocks requests after repeated quota failures.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !time.Now().Before(c.openUntil)
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsQuota(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openUntil = time.Now().Add(c.cooldown)
	}
}
