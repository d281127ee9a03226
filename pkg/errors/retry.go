package errors

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for operations
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns a policy of three attempts with exponential
// backoff starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried
func (rp RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= rp.MaxAttempts {
		return false
	}
	return rp.Retryable == nil || rp.Retryable(err)
}

// GetDelay calculates the delay before the next retry attempt
func (rp RetryPolicy) GetDelay(attempt int) time.Duration {
	if attempt <= 1 || rp.BackoffFactor <= 1 {
		return rp.InitialDelay
	}
	delay := time.Duration(float64(rp.InitialDelay) * math.Pow(rp.BackoffFactor, float64(attempt-1)))
	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, the policy gives up or ctx is done. It
// returns the last error of fn.
func Retry(ctx context.Context, policy RetryPolicy, logger *logrus.Logger, operation string, fn func() error) error {
	attempts := max(policy.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 && logger != nil {
				logger.WithFields(logrus.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !policy.ShouldRetry(err, attempt) {
			break
		}

		delay := policy.GetDelay(attempt)
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err.Error(),
			}).Debug("Retrying operation after delay")
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}

	return lastErr
}
