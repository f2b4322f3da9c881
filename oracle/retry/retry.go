package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// Config controls the backoff of Do.
type Config struct {
	MaxAttempts int           // 0 means retry until the context is done
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on any single delay
	Multiplier  float64       // growth factor between attempts
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// NetworkConfig is used to re-establish ledger connections and subscriptions.
func NetworkConfig() *Config {
	return &Config{
		MaxAttempts: 10,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  1.5,
	}
}

type RetryableFunc func() error

type IsRetryable func(error) bool

var transientErrors = []string{
	"connection refused",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"no such host",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"EOF",
	"use of closed network connection",
}

// DefaultIsRetryable retries transport failures and never retries a ledger
// rejection.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrRejectedByLedger) {
		return false
	}
	if errors.Is(err, types.ErrTransport) {
		return true
	}

	errStr := err.Error()
	for _, transient := range transientErrors {
		if strings.Contains(errStr, transient) {
			return true
		}
	}

	return false
}

// Do runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done.
func Do(ctx context.Context, config *Config, fn RetryableFunc, isRetryable IsRetryable) error {
	var lastErr error

	for attempt := 1; config.MaxAttempts == 0 || attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if 1 < attempt {
				log.Debugf("retry succeeded on attempt %d", attempt)
			}
			return nil
		}

		lastErr = err
		log.Debugf("attempt %d failed: %v", attempt, err)

		if attempt == config.MaxAttempts {
			break
		}

		if !isRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateDelay(config, attempt)):
		}
	}

	return fmt.Errorf("all %d attempts failed, last error: %w", config.MaxAttempts, lastErr)
}

func calculateDelay(config *Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt-1))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}

	return "unknown"
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling fn after maxFailures consecutive failures until
// resetTimeout has passed.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailTime time.Time
	state        CircuitState
	now          func() time.Time
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

func (cb *CircuitBreaker) Execute(fn RetryableFunc) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailTime) > cb.resetTimeout {
			cb.state = StateHalfOpen
			log.Debugf("circuit breaker: open -> half-open")
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.now()

		if cb.failures >= cb.maxFailures || cb.state == StateHalfOpen {
			cb.state = StateOpen
			log.Warnf("circuit breaker opened after %d failures", cb.failures)
		}

		return err
	}

	cb.state = StateClosed
	cb.failures = 0

	return nil
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}
