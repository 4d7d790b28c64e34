package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds resilience settings for analysis API calls
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retries after the first attempt (default: 3)
	InitialBackoff time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
	AttemptTimeout time.Duration // Per-attempt timeout (default: 60s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// Concurrency and rate limits
	MaxConcurrentCalls int     // Maximum concurrent API calls (default: 3, 0 = unlimited)
	RequestsPerSecond  float64 // Sustained request rate cap (default: 2, 0 = unlimited)
	Burst              int     // Rate limiter burst size (default: 1)

	// NewBackOff overrides the retry schedule. When nil, an exponential
	// schedule derived from InitialBackoff and MaxBackoff is used. This is
	// the hook for alternative policies (constant delay, zero delay in tests).
	NewBackOff func() backoff.BackOff
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		AttemptTimeout:        60 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
		RequestsPerSecond:     2,
		Burst:                 1,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern to prevent cascading failures
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		lastStateChange:  time.Now(),
	}
}

// Allow checks if a request should be allowed through the circuit breaker
// Returns an error if the circuit is open and hasn't timed out yet
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		// Check if we should transition to half-open
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.transitionToHalfOpen()
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		// In half-open state, allow one request through to probe
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount > 0 {
			cb.failureCount = 0
		}

	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transitionToOpen()
		}

	case CircuitHalfOpen:
		// Any failure in half-open immediately opens the circuit
		cb.transitionToOpen()
	}
}

// GetState returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transitionToClosed moves the circuit to closed state (must be called with lock held)
func (cb *CircuitBreaker) transitionToClosed() {
	oldState := cb.state
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastStateChange = time.Now()
	log.Printf("[AI] circuit breaker %s -> %s (failures reset)", oldState, cb.state)
}

// transitionToOpen moves the circuit to open state (must be called with lock held)
func (cb *CircuitBreaker) transitionToOpen() {
	oldState := cb.state
	cb.state = CircuitOpen
	cb.successCount = 0
	cb.lastStateChange = time.Now()
	log.Printf("[AI] circuit breaker %s -> %s (failures=%d, will probe in %v)",
		oldState, cb.state, cb.failureCount, cb.openTimeout)
}

// transitionToHalfOpen moves the circuit to half-open state (must be called with lock held)
func (cb *CircuitBreaker) transitionToHalfOpen() {
	oldState := cb.state
	cb.state = CircuitHalfOpen
	cb.successCount = 0
	cb.lastStateChange = time.Now()
	log.Printf("[AI] circuit breaker %s -> %s (probing for recovery)", oldState, cb.state)
}

// withRetry executes an operation with the configured backoff schedule,
// consulting the circuit breaker and rate limiter before each attempt.
func (c *Client) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	// Hold a concurrency slot for the whole retry sequence so retries don't
	// multiply in-flight pressure.
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire call slot for %s: %w", operation, err)
		}
		defer c.sem.Release(1)
	}

	attempts := 0
	work := func() error {
		attempts++

		if c.breaker != nil {
			if err := c.breaker.Allow(); err != nil {
				// Circuit is open: fail fast without burning retries.
				state, failures, _ := c.breaker.GetMetrics()
				log.Printf("[AI] %s blocked by circuit breaker (state=%s, failures=%d)",
					operation, state, failures)
				return backoff.Permanent(fmt.Errorf("%s blocked: %w", operation, err))
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("%s canceled waiting for rate limiter: %w", operation, err))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.retry.AttemptTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			if attempts > 1 {
				log.Printf("[AI] %s succeeded after %d attempts", operation, attempts)
			}
			return nil
		}

		// Non-retriable errors (auth failures, bad requests) shouldn't count
		// against the circuit breaker.
		if !isRetriableError(err) {
			return backoff.Permanent(err)
		}
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		log.Printf("[AI] %s attempt %d failed, will retry: %v", operation, attempts, err)
		return err
	}

	schedule := backoff.WithMaxRetries(c.newBackOff(), uint64(c.retry.MaxRetries))
	if err := backoff.Retry(work, backoff.WithContext(schedule, ctx)); err != nil {
		return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, err)
	}
	return nil
}

// newBackOff builds one retry schedule. Each call returns a fresh schedule so
// concurrent call sequences never share backoff state.
func (c *Client) newBackOff() backoff.BackOff {
	if c.retry.NewBackOff != nil {
		return c.retry.NewBackOff()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialBackoff
	bo.MaxInterval = c.retry.MaxBackoff
	// Attempt count is the bound, not elapsed time.
	bo.MaxElapsedTime = 0
	return bo
}

// isRetriableError determines if an error is retriable (transient)
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	// Network errors and timeouts are retriable
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Check for HTTP status codes indicating transient errors.
	// The Anthropic SDK wraps these, but we check the error string.
	errStr := err.Error()

	// Rate limits (429) are retriable
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	// Server errors (5xx) are retriable
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Network/connection errors are retriable
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// 4xx client errors (except rate limits) are NOT retriable.
	// These indicate bad requests that won't succeed on retry.
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") || strings.Contains(errStr, "404") {
		return false
	}

	// Default to not retrying unknown errors
	return false
}
