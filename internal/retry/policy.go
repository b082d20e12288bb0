// Package retry implements the fixed exponential backoff used for batch uploads
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
)

// Policy defines retry behavior for upload batches
type Policy struct {
	MaxRetries        int           // Retries after the first failed attempt (0 = no retries)
	InitialDelay      time.Duration // Delay before the first retry
	MaxDelay          time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff (e.g., 2.0)
}

// DefaultPolicy returns the default batch retry policy: 1s, 2s, 4s, then give up
func DefaultPolicy() Policy {
	return FromConfig(config.DefaultRetryConfig())
}

// FromConfig builds a policy from configuration
func FromConfig(c config.RetryConfig) Policy {
	return Policy{
		MaxRetries:        c.MaxRetries,
		InitialDelay:      c.InitialDelay,
		MaxDelay:          c.MaxDelay,
		BackoffMultiplier: c.BackoffMultiplier,
	}
}

// CalculateDelay returns the delay before retry number retryCount+1.
// The schedule is deterministic: no jitter is applied.
func (p *Policy) CalculateDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}

	// initialDelay * (multiplier ^ retryCount)
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))

	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// ShouldRetry determines if another retry is allowed after retryCount retries
func (p *Policy) ShouldRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// Schedule returns every delay the policy will wait, in order
func (p *Policy) Schedule() []time.Duration {
	delays := make([]time.Duration, 0, p.MaxRetries)
	for i := 0; p.ShouldRetry(i); i++ {
		delays = append(delays, p.CalculateDelay(i))
	}
	return delays
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("MaxRetries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}

// permanentError is implemented by errors that must not be retried
type permanentError interface {
	Permanent() bool
}

// IsRetriableError determines if an error should trigger a retry.
// Cancellation and errors that declare themselves permanent are not retried.
func IsRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var perm permanentError
	if errors.As(err, &perm) && perm.Permanent() {
		return false
	}

	return true
}

// Wait blocks for d or until ctx is done
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
