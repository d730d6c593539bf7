package errors

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableErrors []ErrorCode
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		RetryableErrors: []ErrorCode{
			ErrCodeNetwork,
			ErrCodeTimeout,
			ErrCodeUnresolvedReference,
		},
	}
}

// DeliveryRetryConfig is used for point-to-point HTTP delivery: 5 attempts, capped at one minute.
func DeliveryRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     5,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: []ErrorCode{ErrCodeNetwork, ErrCodeTimeout},
	}
}

// RetryFunc is a function that can be retried
type RetryFunc func() error

// RetryWithConfig calls fn until it succeeds, fails with an error that is
// not retryable, or runs out of attempts. The wait between attempts grows by
// Multiplier and never exceeds MaxDelay.
func RetryWithConfig(ctx context.Context, fn RetryFunc, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	wait := config.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr, config.RetryableErrors) || attempt >= attempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = nextDelay(wait, config.Multiplier, config.MaxDelay)
	}

	if !isRetryableError(lastErr, config.RetryableErrors) {
		return lastErr
	}
	return WrapExchangeError(lastErr, ErrCodeInternal, "", "maximum retry attempts exceeded").
		WithContext("attempts", attempts)
}

func nextDelay(current time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	if multiplier <= 1 {
		multiplier = 2
	}
	next := time.Duration(float64(current) * multiplier)
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

func isRetryableError(err error, retryableCodes []ErrorCode) bool {
	var exErr *ExchangeError
	if As(err, &exErr) {
		for _, code := range retryableCodes {
			if exErr.Code == code {
				return true
			}
		}
		return exErr.IsRetryable()
	}

	return IsRetryable(err)
}
