package errors

import (
	"fmt"
)

// ErrorCode classifies failures of the exchange layer
type ErrorCode string

const (
	// ErrCodeNetwork indicates the chain, the content store or a peer could not be reached
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeMalformedPayload indicates a payload that failed decoding or shape checks
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeUnresolvedReference indicates a sender, recipient or foreign entity that is not known locally yet
	ErrCodeUnresolvedReference ErrorCode = "UNRESOLVED_REFERENCE"

	// ErrCodeDuplicate indicates a delivery that was already seen
	ErrCodeDuplicate ErrorCode = "DUPLICATE"

	// ErrCodeHandler indicates a domain handler failed while processing an inbox message
	ErrCodeHandler ErrorCode = "HANDLER"

	// ErrCodeImport indicates a share import failed and was rolled back
	ErrCodeImport ErrorCode = "IMPORT"

	// ErrCodeDatabase indicates database operation errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeValidation indicates input validation errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeTimeout indicates timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// ExchangeError is the typed error surfaced by the exchange layer.
// Component names the subsystem that raised it (poller, outbox, inbox, share, ...).
type ExchangeError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Severity  Severity               `json:"severity"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// NewExchangeError creates a new ExchangeError
func NewExchangeError(code ErrorCode, component, message string, cause error) *ExchangeError {
	return &ExchangeError{
		Code:      code,
		Message:   message,
		Component: component,
		Severity:  determineSeverity(code),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *ExchangeError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause
func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *ExchangeError) WithContext(key string, value interface{}) *ExchangeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *ExchangeError) WithSeverity(severity Severity) *ExchangeError {
	e.Severity = severity
	return e
}

// IsRetryable reports whether a later attempt may succeed without operator action.
func (e *ExchangeError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeTimeout, ErrCodeUnresolvedReference:
		return true
	case ErrCodeDatabase:
		return e.Severity != SeverityCritical
	default:
		return false
	}
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal:
		return SeverityCritical
	case ErrCodeDatabase, ErrCodeImport:
		return SeverityHigh
	case ErrCodeHandler, ErrCodeNetwork, ErrCodeTimeout, ErrCodeUnresolvedReference:
		return SeverityMedium
	case ErrCodeValidation, ErrCodeConfig, ErrCodeMalformedPayload:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// NewNetworkError creates a network error
func NewNetworkError(component, message string, cause error) *ExchangeError {
	return NewExchangeError(ErrCodeNetwork, component, message, cause)
}

// NewMalformedPayloadError creates an error for payloads that fail decoding
func NewMalformedPayloadError(component, message string, cause error) *ExchangeError {
	return NewExchangeError(ErrCodeMalformedPayload, component, message, cause)
}

// NewUnresolvedReferenceError reports an entity that has not been imported yet.
func NewUnresolvedReferenceError(component, kind, identifier string) *ExchangeError {
	return NewExchangeError(ErrCodeUnresolvedReference, component,
		fmt.Sprintf("%s not imported yet", kind), nil).
		WithContext("kind", kind).
		WithContext("identifier", identifier)
}

// NewHandlerError wraps a domain handler failure
func NewHandlerError(component, message string, cause error) *ExchangeError {
	return NewExchangeError(ErrCodeHandler, component, message, cause)
}

// NewImportError wraps a failed share import
func NewImportError(component, message string, cause error) *ExchangeError {
	return NewExchangeError(ErrCodeImport, component, message, cause)
}

// NewDatabaseError creates a database error
func NewDatabaseError(component, message string, cause error) *ExchangeError {
	return NewExchangeError(ErrCodeDatabase, component, message, cause)
}

// NewValidationError creates a validation error
func NewValidationError(component, message string) *ExchangeError {
	return NewExchangeError(ErrCodeValidation, component, message, nil)
}

// NewConfigError creates a configuration error
func NewConfigError(component, message string) *ExchangeError {
	return NewExchangeError(ErrCodeConfig, component, message, nil)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(component, message string) *ExchangeError {
	return NewExchangeError(ErrCodeTimeout, component, message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(component, message string, cause error) *ExchangeError {
	return NewExchangeError(ErrCodeInternal, component, message, cause)
}
