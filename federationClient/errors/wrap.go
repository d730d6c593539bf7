package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New is re-exported so callers only need this package.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapExchangeError wraps an error as an ExchangeError if it isn't already one
func WrapExchangeError(err error, code ErrorCode, component, message string) *ExchangeError {
	if err == nil {
		return nil
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		exErr.WithContext("wrapped_message", message)
		if component != "" && exErr.Component == "" {
			exErr.Component = component
		}
		return exErr
	}

	return NewExchangeError(code, component, message, err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// HasCode checks if an error is an ExchangeError with the given code
func HasCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Severity
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "panic"), strings.Contains(errStr, "fatal"):
		return SeverityCritical
	case strings.Contains(errStr, "failed"), strings.Contains(errStr, "error"):
		return SeverityHigh
	case strings.Contains(errStr, "warning"):
		return SeverityMedium
	}
	return SeverityLow
}
